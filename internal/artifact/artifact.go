// Package artifact writes and reads the JSON files a run leaves in its output
// directory. Writes go through a temp file in the same directory so a reader
// never observes a partially written artifact.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File names inside an output directory.
const (
	PreregFile   = "prereg.json"
	ResultsFile  = "results.json"
	BlindMapFile = "blind_map.json"
	ManifestFile = "artifacts_manifest.json"
	LedgerFile   = "ledger.ndjson"
	LedgerDBFile = "ledger.db"
)

// ErrExists is returned by WriteJSONExclusive when the target already exists.
var ErrExists = errors.New("artifact already exists")

// #region encode
// Encode renders v as indented JSON with a trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// #endregion encode

// #region write
// WriteJSON atomically replaces path with the JSON encoding of v.
func WriteJSON(path string, v any) error {
	st, err := StageJSON(path, v)
	if err != nil {
		return err
	}
	return st.Commit()
}

// Staged is an encoded artifact sitting in a temp file next to its final
// path. Nothing is visible under the final name until Commit.
type Staged struct {
	path string
	tmp  string
	data []byte
}

// StageJSON encodes v and writes it to a temp file beside path.
func StageJSON(path string, v any) (*Staged, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	tmp, err := writeTemp(path, data)
	if err != nil {
		return nil, err
	}
	return &Staged{path: path, tmp: tmp, data: data}, nil
}

// Name returns the base name the artifact is published under.
func (s *Staged) Name() string { return filepath.Base(s.path) }

// Data returns the exact bytes Commit publishes.
func (s *Staged) Data() []byte { return s.data }

// Commit renames the temp file onto the final path.
func (s *Staged) Commit() error {
	if err := os.Rename(s.tmp, s.path); err != nil {
		os.Remove(s.tmp)
		return fmt.Errorf("rename %s: %w", s.Name(), err)
	}
	return syncDir(filepath.Dir(s.path))
}

// Discard removes the temp file. It is a no-op after Commit.
func (s *Staged) Discard() {
	os.Remove(s.tmp)
}

// WriteJSONExclusive writes v to path only if path does not exist yet.
// It returns ErrExists otherwise and never touches the existing file.
func WriteJSONExclusive(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrExists)
		}
		return fmt.Errorf("link %s: %w", filepath.Base(path), err)
	}
	return syncDir(filepath.Dir(path))
}

func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return name, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the rename is already done.
	_ = d.Sync()
	return nil
}

// #endregion write

// #region read
// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// #endregion read
