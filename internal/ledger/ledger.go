// Package ledger is the append-only record of gate decisions. Entries are
// never rewritten or deduplicated; each carries the hash of its predecessor
// so that any edit to an earlier line breaks the chain.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

// #region ledger
// Ledger appends and reads decision records. Any failure to record an entry
// durably is reported as *errs.LedgerWriteError.
type Ledger interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	ReadAll(ctx context.Context) ([]Entry, error)
	Verify(ctx context.Context) error
	Close() error
}

// Backend selects the ledger storage.
type Backend string

const (
	BackendNDJSON Backend = "ndjson"
	BackendSQLite Backend = "sqlite"
)

// Open returns the ledger for dir using backend.
func Open(ctx context.Context, backend Backend, dir string, log *slog.Logger) (Ledger, error) {
	switch backend {
	case BackendNDJSON, "":
		return NewFileLedger(dir, log)
	case BackendSQLite:
		return NewSQLLedger(ctx, dir)
	default:
		return nil, errs.Argumentf("unknown ledger backend %q", backend)
	}
}

// #endregion ledger

// #region correction
// Correction builds a correction entry for ref. Corrections are ordinary
// appends; the corrected entry stays in place.
func Correction(ref Ref, runID, note string) Entry {
	return Entry{
		RunID:    runID,
		Event:    EventCorrection,
		AEQ:      ref.AEQ,
		CID:      ref.CID,
		Corrects: &ref,
		Note:     note,
		Metrics:  map[string]float64{},
	}
}

// Find returns the entries recorded for aeq, in ledger order.
func Find(entries []Entry, aeq string) []Entry {
	var out []Entry
	for _, e := range entries {
		if string(e.AEQ) == aeq {
			out = append(out, e)
		}
	}
	return out
}

// #endregion correction

// #region chain
// seal assigns seq and chain fields to e.
func seal(e Entry, seq int64, prev string, now func() time.Time) (Entry, error) {
	e.Seq = seq
	e.PrevHash = prev
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Event == "" {
		e.Event = EventDecision
	}
	h, err := entryHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = h
	return e, nil
}

// entryHash is the sha256 of the JCS form of e with Hash cleared.
func entryHash(e Entry) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode entry: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// verifyChain checks every hash and back-link in entries.
func verifyChain(entries []Entry) error {
	prev := ""
	for _, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("verify ledger: entry %d links to %q, want %q", e.Seq, e.PrevHash, prev)
		}
		h, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("verify ledger: entry %d: %w", e.Seq, err)
		}
		if h != e.Hash {
			return fmt.Errorf("verify ledger: entry %d hash mismatch", e.Seq)
		}
		prev = e.Hash
	}
	return nil
}

// #endregion chain
