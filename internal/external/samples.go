package external

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

const maxSampleLineBytes = 1 << 20

// RunDTO is a benchmark run and its samples, ready to be stored.
type RunDTO struct {
	CreatedAt    time.Time
	RunID        string
	Benchmark    string
	State        string
	ArtifactPath string
	Samples      []SampleDTO
	Attempts     int
	ExitStatus   int
}

// SampleDTO is a sample data transfer object.
type SampleDTO struct {
	Timestamp time.Time
	Labels    map[string]string
	Metric    string
	Unit      string
	RunURI    string
	SampleURI string
	Test      string
	Value     float64
}

// ReadSamples decodes newline-delimited JSON samples, skipping blank lines.
func ReadSamples(r io.Reader) ([]types.Sample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSampleLineBytes)

	var samples []types.Sample
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var s types.Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("failed to decode sample on line %d: %w", lineNo, err)
		}
		s.Metadata = ParseLabels(s.Labels)
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	return samples, nil
}

// WriteSamples encodes samples as newline-delimited JSON. Samples without labels get them
// rendered from their metadata.
func WriteSamples(w io.Writer, samples []types.Sample) error {
	enc := json.NewEncoder(w)
	for i := range samples {
		s := samples[i]
		if s.Labels == "" {
			s.Labels = FormatLabels(s.Metadata)
		}
		if err := enc.Encode(&s); err != nil {
			return fmt.Errorf("failed to encode sample %q: %w", s.Metric, err)
		}
	}
	return nil
}

// FormatLabels renders metadata in the tool's label format: |key:value| pairs joined by
// commas, sorted by key.
func FormatLabels(metadata map[string]string) string {
	parts := make([]string, 0, len(metadata))
	for _, k := range slices.Sorted(maps.Keys(metadata)) {
		parts = append(parts, "|"+k+":"+metadata[k]+"|")
	}
	return strings.Join(parts, ",")
}

// ParseLabels is the inverse of FormatLabels. Malformed pairs are skipped.
func ParseLabels(labels string) map[string]string {
	metadata := make(map[string]string)
	for _, part := range strings.Split(labels, "|,|") {
		part = strings.Trim(part, "|")
		key, value, ok := strings.Cut(part, ":")
		if !ok || key == "" {
			continue
		}
		metadata[key] = value
	}
	return metadata
}

// MapSamplesToDTO maps samples to DTOs, converting the fractional unix timestamp.
func MapSamplesToDTO(samples []types.Sample) []SampleDTO {
	dtos := make([]SampleDTO, 0, len(samples))
	for i := range samples {
		s := &samples[i]
		labels := s.Metadata
		if labels == nil {
			labels = ParseLabels(s.Labels)
		}
		sec, frac := math.Modf(s.Timestamp)
		dtos = append(dtos, SampleDTO{
			Metric:    s.Metric,
			Value:     s.Value,
			Unit:      s.Unit,
			Labels:    labels,
			Timestamp: time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(),
			RunURI:    s.RunURI,
			SampleURI: s.SampleURI,
			Test:      s.Test,
		})
	}
	return dtos
}
