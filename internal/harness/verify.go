package harness

import (
	"context"
	"errors"
	"os"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/identity"
	"github.com/danielpatrickdp/ablation-harness/internal/manifest"
)

// #region verify
// Report summarises the integrity of a workspace.
type Report struct {
	AEQ        identity.ID         `json:"aeq"`
	CID        identity.ID         `json:"cid"`
	Identity   string              `json:"identity_error,omitempty"`
	Mismatches []manifest.Mismatch `json:"mismatches,omitempty"`
	Manifest   string              `json:"manifest_error,omitempty"`
	Ledger     string              `json:"ledger_error,omitempty"`
	Entries    int                 `json:"entries"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	return r.Identity == "" && r.Manifest == "" && r.Ledger == "" && len(r.Mismatches) == 0
}

// Verify recomputes the preregistration identity, rehashes the manifest and
// walks the ledger chain. Integrity failures land in the report; only a
// missing preregistration is returned as an error.
func (w *Workspace) Verify(ctx context.Context) (Report, error) {
	var r Report
	p, err := w.store.Load()
	if err != nil {
		return r, err
	}
	r.AEQ, r.CID = p.AEQ(), p.CID()
	if err := p.Verify(); err != nil {
		r.Identity = err.Error()
	}

	switch mismatches, err := manifest.Verify(w.dir, artifact.LedgerFile); {
	case errors.Is(err, os.ErrNotExist):
		r.Manifest = "no " + artifact.ManifestFile
	case err != nil:
		r.Manifest = err.Error()
	default:
		r.Mismatches = mismatches
	}

	entries, err := w.ledger.ReadAll(ctx)
	if err != nil {
		r.Ledger = err.Error()
		return r, nil
	}
	r.Entries = len(entries)
	if err := w.ledger.Verify(ctx); err != nil {
		r.Ledger = err.Error()
	}
	return r, nil
}

// #endregion verify
