package external

import (
	"regexp"
	"strconv"
)

var (
	latencyRe = regexp.MustCompile(`([0-9]*\.[0-9]*)`)
	lossRe    = regexp.MustCompile(`([0-9]*\.?[0-9]*)%`)
)

// pingFieldNames is the order of the fields in the summary ping prints.
var pingFieldNames = []string{"min latency", "average latency", "max latency", "latency std dev", "packet loss rate"}

// PingStats is the summary of a ping run. Latencies are in milliseconds, PacketLoss in percent.
type PingStats struct {
	MinLatency    float64
	AvgLatency    float64
	MaxLatency    float64
	StdDevLatency float64
	PacketLoss    float64
}

// ParsePingStats reads the last two lines of ping's stdout:
//
//	250 packets transmitted, 250 received, 0% packet loss, time 249321ms
//	rtt min/avg/max/mdev = 0.040/0.052/0.070/0.010 ms
func ParsePingStats(stdout string) (*PingStats, error) {
	lines := splitLines(stdout)
	if len(lines) < 2 {
		return nil, &FieldError{Field: "ping summary", Err: ErrFieldMissing, Line: stdout}
	}
	lossLine, rttLine := lines[len(lines)-2], lines[len(lines)-1]

	raw := latencyRe.FindAllString(rttLine, -1)
	for _, m := range lossRe.FindAllStringSubmatch(lossLine, -1) {
		raw = append(raw, m[1])
	}
	line := lossLine + "\n" + rttLine
	switch {
	case len(raw) < len(pingFieldNames):
		return nil, &FieldError{Field: pingFieldNames[len(raw)], Err: ErrFieldMissing, Line: line}
	case len(raw) > len(pingFieldNames):
		return nil, &FieldError{Field: "ping summary", Err: ErrFieldExtra, Line: line}
	}

	values := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &FieldError{Field: pingFieldNames[i], Err: ErrFieldMalformed, Line: line}
		}
		values[i] = v
	}
	return &PingStats{
		MinLatency:    values[0],
		AvgLatency:    values[1],
		MaxLatency:    values[2],
		StdDevLatency: values[3],
		PacketLoss:    values[4],
	}, nil
}
