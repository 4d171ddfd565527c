package external

import (
	"regexp"
	"strconv"

	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

var (
	successRateRe = regexp.MustCompile(`^Success rate:\s+([^%\s]+)%`)
	publishingRe  = regexp.MustCompile(`Publishing (\d+) samples to (/.*\.json)`)
)

// ParseSuccessRate extracts the percentage from the "Success rate: <float>%" line, which the
// benchmarking tool writes as the second-to-last line of stderr.
func ParseSuccessRate(stderr string) (float64, error) {
	const field = "success rate"
	lines := splitLines(stderr)
	if len(lines) < 2 {
		return 0, &FieldError{Field: field, Err: ErrFieldMissing, Line: stderr}
	}
	line := lines[len(lines)-2]
	m := successRateRe.FindStringSubmatch(line)
	if m == nil {
		return 0, &FieldError{Field: field, Err: ErrFieldMissing, Line: line}
	}
	rate, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, &FieldError{Field: field, Err: ErrFieldMalformed, Line: line}
	}
	return rate, nil
}

// ParsePublishedArtifact locates the "Publishing <n> samples to <path>.json" line in stderr.
// The second return value is false when no results file was published.
func ParsePublishedArtifact(stderr string) (types.Artifact, bool) {
	m := publishingRe.FindStringSubmatch(stderr)
	if m == nil {
		return types.Artifact{}, false
	}
	count, err := strconv.Atoi(m[1])
	if err != nil {
		count = -1
	}
	return types.Artifact{Path: m[2], SampleCount: count}, true
}
