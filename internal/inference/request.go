package inference

import (
	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/model"
)

// Request is everything a session needs. It is copied into the session, so
// later edits by the caller have no effect.
type Request struct {
	ModelPath     string
	TokenizerPath string
	Accelerator   backend.Kind
	Settings      model.Settings
	Prompt        string
}

// SettingsOverride carries optional per-request settings. Nil fields keep
// the stored value.
type SettingsOverride struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	TopK         *int     `json:"top_k,omitempty"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
}

func (o SettingsOverride) Empty() bool {
	return o.Temperature == nil && o.TopK == nil && o.MaxNewTokens == nil
}

// ResolveSettings applies overrides on top of defaults and clamps the result.
func ResolveSettings(o SettingsOverride, defaults model.Settings) model.Settings {
	s := defaults
	if o.Temperature != nil {
		s.Temperature = *o.Temperature
	}
	if o.TopK != nil {
		s.TopK = *o.TopK
	}
	if o.MaxNewTokens != nil {
		s.MaxNewTokens = *o.MaxNewTokens
	}
	return s.Clamped()
}
