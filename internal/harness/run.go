package harness

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/gate"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
	"github.com/danielpatrickdp/ablation-harness/internal/manifest"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region run
// Run executes one preregistered run. The returned Outcome is final only
// when err is nil: a failed ledger append is fatal and leaves results.json,
// blind_map.json and the manifest as they were.
func (w *Workspace) Run(ctx context.Context, opts RunOptions) (*Outcome, error) {
	if opts.Scorer == nil {
		return nil, errs.Argumentf("run: no scorer configured")
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := w.log.With("run_id", runID)

	// Freeze and persist before any metric exists.
	p, err := prereg.NewDraft(opts.Prereg).WithClock(w.now).Freeze()
	if err != nil {
		return nil, fmt.Errorf("freeze preregistration: %w", err)
	}
	p, err = w.store.Persist(p)
	if err != nil {
		return nil, err
	}
	log = log.With("aeq", p.AEQ(), "cid", p.CID())
	log.Info("preregistration frozen", "mode", p.Mode(), "seed", p.Seed())

	mode, err := ModeFor(p)
	if err != nil {
		return nil, err
	}

	metrics, err := scorer.Collect(ctx, opts.Scorer, p.Conditions(), p.Seed(), log)
	if err != nil {
		return nil, err
	}

	res := Results{
		AEQ:       p.AEQ(),
		CID:       p.CID(),
		RunID:     runID,
		Seed:      p.Seed(),
		Mode:      mode.Kind(),
		Metric:    p.Metric(),
		CreatedAt: w.now().UTC(),
	}
	gated := metrics
	ledgerMetrics, ledgerMissing := labelled(metrics)
	revealed := false

	if b, ok := mode.(Blinded); ok {
		values, missing, err := b.Map.BlindMetrics(metrics)
		if err != nil {
			return nil, err
		}
		res.BlindedMetrics, res.BlindedMissing = values, missing
		ledgerMetrics, ledgerMissing = values, missing

		gated, err = mode.Reveal(values, missing)
		if err != nil {
			return nil, err
		}
		revealed = b.Map.Revealed()
		log.Info("blind map revealed", "disclosed", opts.Disclose)
	}
	res.Revealed = revealed
	if mode.Kind() == prereg.ModeUnblind || opts.Disclose {
		res.Metrics = gated.Values
		if len(gated.Missing) > 0 {
			res.Missing = gated.Missing
		}
	}

	decision, err := gate.Evaluate(p, gated, gate.Options{
		Blinded:  mode.Kind() == prereg.ModeBlind,
		Revealed: revealed,
	})
	if err != nil {
		return nil, err
	}
	res.Gates, res.Overall = decision.Gates, decision.Overall
	log.Info("gates evaluated", "overall_pass", decision.Overall, "failed", decision.Failed())

	// Artifacts are staged and hashed before the append and only published
	// once the ledger holds the decision.
	var staged []*artifact.Staged
	defer func() {
		for _, st := range staged {
			st.Discard()
		}
	}()
	if b, ok := mode.(Blinded); ok && opts.Disclose {
		snap := b.Map.Snapshot()
		res.BlindMap = snap.MapRealToBlind
		st, err := artifact.StageJSON(w.path(artifact.BlindMapFile), snap)
		if err != nil {
			return nil, fmt.Errorf("stage blind map: %w", err)
		}
		staged = append(staged, st)
	}
	st, err := artifact.StageJSON(w.path(artifact.ResultsFile), res)
	if err != nil {
		return nil, fmt.Errorf("stage results: %w", err)
	}
	staged = append(staged, st)

	files, err := manifest.BuildExisting(w.dir, artifact.PreregFile)
	if err != nil {
		return nil, err
	}
	written := []string{artifact.PreregFile}
	for _, st := range staged {
		files[st.Name()] = manifest.HashBytes(st.Data())
		written = append(written, st.Name())
	}
	digest, err := manifest.Digest(files)
	if err != nil {
		return nil, err
	}

	entry, err := w.ledger.Append(ctx, ledger.Entry{
		RunID:          runID,
		Timestamp:      res.CreatedAt,
		Event:          ledger.EventDecision,
		AEQ:            p.AEQ(),
		CID:            p.CID(),
		Mode:           string(mode.Kind()),
		Metrics:        ledgerMetrics,
		Missing:        ledgerMissing,
		Gates:          decision.Gates,
		Overall:        decision.Overall,
		ManifestDigest: digest,
		Artifacts:      files,
	})
	if err != nil {
		log.Error("decision not recorded", "error", err)
		return nil, fmt.Errorf("record decision: %w", err)
	}
	log.Info("decision recorded", "seq", entry.Seq)

	for _, st := range staged {
		if err := st.Commit(); err != nil {
			return nil, fmt.Errorf("publish recorded decision: %w", err)
		}
	}

	final, err := w.writeManifest(p, written)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Prereg:   p,
		Mode:     mode,
		Metrics:  gated,
		Decision: decision,
		Results:  res,
		Entry:    entry,
		Manifest: final,
	}, nil
}

// #endregion run

// #region helpers
// writeManifest hashes the run artifacts plus the ndjson ledger. A SQLite
// ledger is left out because its file changes on checkpoint.
func (w *Workspace) writeManifest(p prereg.Preregistration, written []string) (manifest.Manifest, error) {
	names := append([]string(nil), written...)
	if w.backend == ledger.BackendNDJSON {
		names = append(names, artifact.LedgerFile)
	}
	files, err := manifest.BuildExisting(w.dir, names...)
	if err != nil {
		return manifest.Manifest{}, err
	}
	m := manifest.Manifest{AEQ: p.AEQ(), CID: p.CID(), Files: files}
	if err := manifest.Write(w.dir, m); err != nil {
		return manifest.Manifest{}, err
	}
	return m, nil
}

func (w *Workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func labelled(m scorer.Metrics) (map[string]float64, map[string]string) {
	values := make(map[string]float64, len(m.Values))
	for c, v := range m.Values {
		values[string(c)] = v
	}
	var missing map[string]string
	if len(m.Missing) > 0 {
		missing = make(map[string]string, len(m.Missing))
		for c, r := range m.Missing {
			missing[string(c)] = r
		}
	}
	return values, missing
}

// #endregion helpers
