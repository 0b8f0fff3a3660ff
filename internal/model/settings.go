package model

// Generation defaults and practical ranges.
const (
	DefaultTemperature  = 0.8
	DefaultTopK         = 40
	DefaultMaxNewTokens = 256

	MinTemperature  = 0.1
	MaxTemperature  = 1.0
	MinTopK         = 1
	MaxTopK         = 100
	MinMaxNewTokens = 64
	MaxMaxNewTokens = 1024
)

// Settings controls one generation. It is passed by value so a running
// session never observes later edits.
//
// Decoding is greedy: Temperature and TopK are stored and reported but the
// decode loop does not consume them.
type Settings struct {
	Temperature  float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK         int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	MaxNewTokens int     `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens"`
}

func DefaultSettings() Settings {
	return Settings{
		Temperature:  DefaultTemperature,
		TopK:         DefaultTopK,
		MaxNewTokens: DefaultMaxNewTokens,
	}
}

// Clamped fills zero values with defaults and pulls the rest into range.
func (s Settings) Clamped() Settings {
	if s.Temperature == 0 {
		s.Temperature = DefaultTemperature
	}
	if s.TopK == 0 {
		s.TopK = DefaultTopK
	}
	if s.MaxNewTokens == 0 {
		s.MaxNewTokens = DefaultMaxNewTokens
	}
	s.Temperature = min(max(s.Temperature, MinTemperature), MaxTemperature)
	s.TopK = min(max(s.TopK, MinTopK), MaxTopK)
	s.MaxNewTokens = min(max(s.MaxNewTokens, MinMaxNewTokens), MaxMaxNewTokens)
	return s
}

// SamplingRequested reports whether the settings ask for anything other
// than greedy decoding.
func (s Settings) SamplingRequested() bool {
	return s.TopK > 1
}
