package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

const lockRetry = 10 * time.Millisecond

// #region file-ledger
// FileLedger stores one JSON entry per line in ledger.ndjson. Appends are
// serialized by a mutex inside the process and an flock across processes.
type FileLedger struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	log  *slog.Logger
	now  func() time.Time
}

// NewFileLedger opens (creating if needed) the ledger in dir.
func NewFileLedger(dir string, log *slog.Logger) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.LedgerWrite("open", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	path := filepath.Join(dir, artifact.LedgerFile)
	return &FileLedger{
		path: path,
		lock: flock.New(path + ".lock"),
		log:  log,
		now:  time.Now,
	}, nil
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string { return l.path }

// Close releases the lock file handle.
func (l *FileLedger) Close() error {
	return l.lock.Close()
}

// #endregion file-ledger

// #region append
// Append writes e as a single line and fsyncs before returning. A torn
// trailing line left by an interrupted writer is terminated first so it
// cannot swallow the new entry.
func (l *FileLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := acquire(ctx, l.lock.TryLockContext); err != nil {
		return Entry{}, errs.LedgerWrite("lock", err)
	}
	defer l.lock.Unlock()

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return Entry{}, errs.LedgerWrite("open", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Entry{}, errs.LedgerWrite("read", err)
	}
	entries := l.parse(data)

	var seq int64 = 1
	prev := ""
	if n := len(entries); n > 0 {
		seq = entries[n-1].Seq + 1
		prev = entries[n-1].Hash
	}
	sealed, err := seal(e, seq, prev, l.now)
	if err != nil {
		return Entry{}, errs.LedgerWrite("encode", err)
	}
	line, err := json.Marshal(sealed)
	if err != nil {
		return Entry{}, errs.LedgerWrite("encode", err)
	}

	var buf bytes.Buffer
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	if _, err := f.Write(buf.Bytes()); err != nil {
		return Entry{}, errs.LedgerWrite("write", err)
	}
	if err := f.Sync(); err != nil {
		return Entry{}, errs.LedgerWrite("sync", err)
	}
	return sealed, nil
}

// #endregion append

// #region read
// ReadAll returns every valid entry in append order. Torn or unparsable lines
// are skipped.
func (l *FileLedger) ReadAll(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := acquire(ctx, l.lock.TryRLockContext); err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	defer l.lock.Unlock()

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return l.parse(data), nil
}

// Verify checks the hash chain over all valid entries.
func (l *FileLedger) Verify(ctx context.Context) error {
	entries, err := l.ReadAll(ctx)
	if err != nil {
		return err
	}
	return verifyChain(entries)
}

func (l *FileLedger) parse(data []byte) []Entry {
	var out []Entry
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Hash == "" || e.Seq <= 0 {
			l.log.Warn("skipping invalid ledger line", "path", l.path, "line", i+1)
			continue
		}
		out = append(out, e)
	}
	return out
}

// #endregion read

// #region helpers
func acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	ok, err := try(ctx, lockRetry)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock not acquired")
	}
	return nil
}

// #endregion helpers
