// Package harness runs one preregistered ablation end to end: freeze,
// optional blinding, scoring, reveal, gate evaluation, ledger append and
// artifact manifest. All state lives on a Workspace value.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
)

const (
	lockFile           = ".harness.lock"
	defaultLockTimeout = 5 * time.Second
)

// #region workspace
// Workspace is an output directory held open for runs. Only one process
// holds a workspace at a time.
type Workspace struct {
	dir     string
	backend ledger.Backend
	lock    *flock.Flock
	store   *prereg.Store
	ledger  ledger.Ledger
	log     *slog.Logger
	now     func() time.Time
}

// Open locks cfg.OutDir and opens its ledger.
func Open(ctx context.Context, cfg Config) (*Workspace, error) {
	if cfg.OutDir == "" {
		return nil, errs.Argumentf("output directory is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.OutDir, lockFile))
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, 25*time.Millisecond)
	switch {
	case err != nil:
		return nil, fmt.Errorf("lock workspace %s: %w: %v", cfg.OutDir, errs.ErrWorkspaceLocked, err)
	case !ok:
		return nil, fmt.Errorf("lock workspace %s: %w", cfg.OutDir, errs.ErrWorkspaceLocked)
	}

	l, err := ledger.Open(ctx, cfg.LedgerBackend, cfg.OutDir, log)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	backend := cfg.LedgerBackend
	if backend == "" {
		backend = ledger.BackendNDJSON
	}
	log.Debug("workspace opened", "dir", cfg.OutDir, "ledger", backend)
	return &Workspace{
		dir:     cfg.OutDir,
		backend: backend,
		lock:    lock,
		store:   prereg.NewStore(cfg.OutDir),
		ledger:  l,
		log:     log,
		now:     time.Now,
	}, nil
}

// Close closes the ledger and releases the workspace lock.
func (w *Workspace) Close() error {
	lerr := w.ledger.Close()
	if err := w.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return lerr
}

// Dir returns the output directory.
func (w *Workspace) Dir() string { return w.dir }

// Ledger returns the open ledger.
func (w *Workspace) Ledger() ledger.Ledger { return w.ledger }

// Store returns the preregistration store.
func (w *Workspace) Store() *prereg.Store { return w.store }

// #endregion workspace
