package model

import (
	"fmt"
	"strings"
)

// Compatibility classifies whether a model can run on this device and how.
type Compatibility string

const (
	Checking       Compatibility = "CHECKING"
	Supported      Compatibility = "SUPPORTED"
	PartialSupport Compatibility = "PARTIAL_SUPPORT"
	Unsupported    Compatibility = "UNSUPPORTED"
	Failed         Compatibility = "FAILED"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Compatibility {
	return []Compatibility{Checking, Supported, PartialSupport, Unsupported, Failed}
}

// Terminal reports whether c is a final classification.
func (c Compatibility) Terminal() bool {
	switch c {
	case Supported, PartialSupport, Unsupported, Failed:
		return true
	default:
		return false
	}
}

func (c Compatibility) Valid() bool {
	return c == Checking || c.Terminal()
}

// Label is the short text the model list shows next to a model.
func (c Compatibility) Label() string {
	switch c {
	case Checking:
		return "checking..."
	case Supported:
		return "accelerated"
	case PartialSupport:
		return "cpu only"
	case Unsupported:
		return "unsupported"
	case Failed:
		return "failed to load"
	default:
		return string(c)
	}
}

// ParseCompatibility accepts the canonical names in any case.
func ParseCompatibility(s string) (Compatibility, error) {
	c := Compatibility(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown compatibility status %q", s)
	}
	return c, nil
}

// Transition validates a status change. The only legal moves are from
// CHECKING to a terminal value, and a restart to CHECKING when a model is
// probed again.
func Transition(from, to Compatibility) error {
	if !to.Valid() {
		return fmt.Errorf("invalid compatibility status %q", to)
	}
	if to == Checking {
		return nil
	}
	if from != Checking {
		return fmt.Errorf("compatibility already settled as %s", from)
	}
	return nil
}
