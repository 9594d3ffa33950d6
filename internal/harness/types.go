package harness

import (
	"log/slog"
	"time"

	"github.com/danielpatrickdp/ablation-harness/internal/gate"
	"github.com/danielpatrickdp/ablation-harness/internal/identity"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
	"github.com/danielpatrickdp/ablation-harness/internal/manifest"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region config
// Config selects where a workspace lives and how it records decisions.
type Config struct {
	OutDir        string
	LedgerBackend ledger.Backend
	LockTimeout   time.Duration
	Logger        *slog.Logger
}

// RunOptions describe one run.
type RunOptions struct {
	Prereg prereg.Config
	Scorer scorer.Scorer
	// Disclose writes blind_map.json and real-labelled metrics after reveal.
	// Ignored for unblinded runs.
	Disclose bool
	// RunID overrides the generated run id.
	RunID string
}

// #endregion config

// #region results
// Results is the results.json layout.
type Results struct {
	AEQ            identity.ID                  `json:"AEQ"`
	CID            identity.ID                  `json:"CID"`
	RunID          string                       `json:"run_id"`
	Seed           int64                        `json:"seed"`
	Mode           prereg.ModeKind              `json:"mode"`
	Metric         string                       `json:"metric"`
	Metrics        map[scorer.Condition]float64 `json:"metrics,omitempty"`
	Missing        map[scorer.Condition]string  `json:"missing,omitempty"`
	BlindedMetrics map[string]float64           `json:"blinded_metrics,omitempty"`
	BlindedMissing map[string]string            `json:"blinded_missing,omitempty"`
	BlindMap       map[scorer.Condition]string  `json:"blind_map,omitempty"`
	Revealed       bool                         `json:"revealed"`
	Gates          []gate.GateDecision          `json:"gates"`
	Overall        bool                         `json:"overall_pass"`
	CreatedAt      time.Time                    `json:"created_at"`
}

// Decision rebuilds the gate decision recorded in r.
func (r Results) Decision() gate.Decision {
	return gate.Decision{Gates: r.Gates, Overall: r.Overall}
}

// #endregion results

// #region outcome
// Outcome is a run that was recorded in the ledger.
type Outcome struct {
	Prereg   prereg.Preregistration
	Mode     RunMode
	Metrics  scorer.Metrics
	Decision gate.Decision
	Results  Results
	Entry    ledger.Entry
	Manifest manifest.Manifest
}

// #endregion outcome
