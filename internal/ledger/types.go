package ledger

import (
	"time"

	"github.com/danielpatrickdp/ablation-harness/internal/gate"
	"github.com/danielpatrickdp/ablation-harness/internal/identity"
)

// #region event
// Event classifies a ledger entry.
type Event string

const (
	EventDecision   Event = "decision"
	EventCorrection Event = "correction"
)

// #endregion event

// #region entry
// Ref points at the preregistration an entry is about.
type Ref struct {
	AEQ identity.ID `json:"aeq"`
	CID identity.ID `json:"cid"`
}

// Entry is one ledger record. Seq, PrevHash and Hash are assigned by the
// ledger on append; callers leave them empty.
type Entry struct {
	Seq            int64               `json:"seq"`
	RunID          string              `json:"run_id"`
	Timestamp      time.Time           `json:"timestamp"`
	Event          Event               `json:"event"`
	AEQ            identity.ID         `json:"aeq"`
	CID            identity.ID         `json:"cid"`
	Mode           string              `json:"mode"`
	Metrics        map[string]float64  `json:"metrics"`
	Missing        map[string]string   `json:"missing,omitempty"`
	Gates          []gate.GateDecision `json:"gates,omitempty"`
	Overall        bool                `json:"overall_pass"`
	ManifestDigest string              `json:"manifest_digest,omitempty"`
	Artifacts      map[string]string   `json:"artifacts,omitempty"`
	Corrects       *Ref                `json:"corrects,omitempty"`
	Note           string              `json:"note,omitempty"`
	PrevHash       string              `json:"prev_hash"`
	Hash           string              `json:"hash"`
}

// #endregion entry
