package types

// Sample is one measurement published by a benchmark run.
// The JSON layout matches the newline-delimited records the benchmarking tool publishes.
type Sample struct {
	Metadata  map[string]string `json:"-"`
	Metric    string            `json:"metric"`
	Unit      string            `json:"unit"`
	Labels    string            `json:"labels"`
	RunURI    string            `json:"run_uri"`
	SampleURI string            `json:"sample_uri"`
	Test      string            `json:"test"`
	Owner     string            `json:"owner"`
	Value     float64           `json:"value"`
	Timestamp float64           `json:"timestamp"`
	Official  bool              `json:"official"`
}

// Artifact is a results file located in a benchmark run's stderr.
type Artifact struct {
	Path        string
	SampleCount int
}
