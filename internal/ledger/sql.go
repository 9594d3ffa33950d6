package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	seq          INTEGER PRIMARY KEY,
	run_id       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	event        TEXT NOT NULL,
	aeq          TEXT NOT NULL,
	cid          TEXT NOT NULL,
	overall_pass INTEGER NOT NULL,
	entry_json   TEXT NOT NULL,
	prev_hash    TEXT NOT NULL,
	hash         TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS ledger_aeq ON ledger (aeq);

CREATE TRIGGER IF NOT EXISTS ledger_no_update BEFORE UPDATE ON ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;

CREATE TRIGGER IF NOT EXISTS ledger_no_delete BEFORE DELETE ON ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;
`

// #endregion schema

// #region sql-ledger
// SQLLedger keeps the ledger in a SQLite table whose triggers reject
// UPDATE and DELETE.
type SQLLedger struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// NewSQLLedger opens ledger.db in dir and runs migrations.
func NewSQLLedger(ctx context.Context, dir string) (*SQLLedger, error) {
	return OpenSQLLedger(ctx, filepath.Join(dir, artifact.LedgerDBFile))
}

// OpenSQLLedger opens a ledger at an explicit database path or DSN.
// Transactions always begin IMMEDIATE so a second writer waits on
// busy_timeout instead of failing its read-to-write upgrade.
func OpenSQLLedger(ctx context.Context, dsn string) (*SQLLedger, error) {
	db, err := sql.Open("sqlite", immediateDSN(dsn))
	if err != nil {
		return nil, errs.LedgerWrite("open", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errs.LedgerWrite("pragma", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.LedgerWrite("migrate", err)
	}
	return &SQLLedger{db: db, now: time.Now}, nil
}

// immediateDSN turns a path or DSN into a file: URI with _txlock=immediate.
func immediateDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate"
}

// Close closes the database.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}

// #endregion sql-ledger

// #region append
// Append inserts e in a transaction after the current tail.
func (l *SQLLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, errs.LedgerWrite("begin", err)
	}
	defer tx.Rollback()

	var (
		seq  int64 = 1
		prev string
	)
	var lastSeq int64
	err = tx.QueryRowContext(ctx, `SELECT seq, hash FROM ledger ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		prev = ""
	case err != nil:
		return Entry{}, errs.LedgerWrite("read tail", err)
	default:
		seq = lastSeq + 1
	}

	sealed, err := seal(e, seq, prev, l.now)
	if err != nil {
		return Entry{}, errs.LedgerWrite("encode", err)
	}
	body, err := json.Marshal(sealed)
	if err != nil {
		return Entry{}, errs.LedgerWrite("encode", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger (seq, run_id, created_at, event, aeq, cid, overall_pass, entry_json, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sealed.Seq,
		sealed.RunID,
		sealed.Timestamp.Format(time.RFC3339Nano),
		string(sealed.Event),
		string(sealed.AEQ),
		string(sealed.CID),
		sealed.Overall,
		string(body),
		sealed.PrevHash,
		sealed.Hash,
	)
	if err != nil {
		return Entry{}, errs.LedgerWrite("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, errs.LedgerWrite("commit", err)
	}
	return sealed, nil
}

// #endregion append

// #region read
// ReadAll returns every entry ordered by seq.
func (l *SQLLedger) ReadAll(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT entry_json FROM ledger ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decode ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify checks the hash chain over all rows.
func (l *SQLLedger) Verify(ctx context.Context) error {
	entries, err := l.ReadAll(ctx)
	if err != nil {
		return err
	}
	return verifyChain(entries)
}

// #endregion read
