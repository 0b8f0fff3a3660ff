package inference

import (
	"time"

	"github.com/samcharles93/aistudio/internal/backend"
)

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	FirstToken      time.Duration
	Duration        time.Duration
	TPS             float64
}

func (s *Stats) finish(start time.Time) {
	s.Duration = time.Since(start)
	if s.Duration.Seconds() > 0 {
		s.TPS = float64(s.TokensGenerated) / s.Duration.Seconds()
	}
}

// Report describes a finished session.
type Report struct {
	SessionID   string
	Model       string
	Accelerator backend.Kind
	State       State
	Err         error
	Stats       Stats
}

// Observer is notified of session and probe lifecycles. Implementations
// must not block.
type Observer interface {
	SessionStarted(sessionID, model string)
	SessionFinished(Report)
	ProbeFinished(Classification)
}
