package prereg

import (
	"time"

	"github.com/danielpatrickdp/ablation-harness/internal/identity"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region mode
// ModeKind is the preregistered run mode.
type ModeKind string

const (
	ModeUnblind ModeKind = "unblind"
	ModeBlind   ModeKind = "blind"
)

// ParseMode validates a mode name.
func ParseMode(s string) (ModeKind, bool) {
	switch m := ModeKind(s); m {
	case ModeUnblind, ModeBlind:
		return m, true
	default:
		return "", false
	}
}

// #endregion mode

// #region config
// Config is the user-supplied input to a freeze. Pointer fields are required
// and distinguish "absent" from zero.
type Config struct {
	DeltaMin    *float64
	ControlMax  *float64
	BaselineMin *float64 // optional floor on the baseline score
	Seed        *int64
	Mode        ModeKind
	Metric      string
	Conditions  []scorer.Condition // defaults to scorer.DefaultConditions()
	Notes       string
	Metadata    map[string]string
}

// #endregion config

// #region document
// Document is the prereg.json layout.
type Document struct {
	Thresholds DocumentThresholds `json:"thresholds"`
	Seed       int64              `json:"seed"`
	Mode       ModeKind           `json:"mode"`
	Metric     string             `json:"metric"`
	Conditions []scorer.Condition `json:"conditions"`
	Notes      string             `json:"notes,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	AEQ        identity.ID        `json:"AEQ"`
	CID        identity.ID        `json:"CID"`
	FrozenAt   time.Time          `json:"frozen_at"`
}

// DocumentThresholds is the thresholds block of prereg.json.
type DocumentThresholds struct {
	DeltaMin    float64  `json:"delta_min"`
	ControlMax  float64  `json:"control_max"`
	BaselineMin *float64 `json:"baseline_min,omitempty"`
}

// #endregion document
