// Package manifest records the SHA-256 of every artifact a run produced so
// that a later reader can tell whether any of them changed.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/identity"
)

const digestPrefix = "sha256:"

// #region types
// Manifest is the artifacts_manifest.json layout.
type Manifest struct {
	AEQ   identity.ID       `json:"aeq"`
	CID   identity.ID       `json:"cid"`
	Files map[string]string `json:"files"`
}

// Mismatch describes one file whose current digest differs from the manifest.
// Got is empty when the file no longer exists.
type Mismatch struct {
	File string `json:"file"`
	Want string `json:"want"`
	Got  string `json:"got,omitempty"`
}

func (m Mismatch) String() string {
	if m.Got == "" {
		return fmt.Sprintf("%s: missing (want %s)", m.File, m.Want)
	}
	return fmt.Sprintf("%s: %s != %s", m.File, m.Got, m.Want)
}

// #endregion types

// #region build
// HashFile returns "sha256:<hex>" of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return digestPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns "sha256:<hex>" of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// Build hashes every path and keys the result by base name.
func Build(paths []string) (map[string]string, error) {
	files := make(map[string]string, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if _, dup := files[name]; dup {
			return nil, fmt.Errorf("build manifest: duplicate file name %s", name)
		}
		d, err := HashFile(p)
		if err != nil {
			return nil, fmt.Errorf("build manifest: %w", err)
		}
		files[name] = d
	}
	return files, nil
}

// BuildExisting is Build over the names in dir that exist; absent names are skipped.
func BuildExisting(dir string, names ...string) (map[string]string, error) {
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		paths = append(paths, p)
	}
	return Build(paths)
}

// Digest summarises a file map as "sha256:<hex>" of its canonical JSON form.
func Digest(files map[string]string) (string, error) {
	raw, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("digest manifest: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("digest manifest: %w", err)
	}
	sum := sha256.Sum256(canon)
	return digestPrefix + hex.EncodeToString(sum[:]), nil
}

// #endregion build

// #region persist
// Write stores m as artifacts_manifest.json in dir.
func Write(dir string, m Manifest) error {
	if err := artifact.WriteJSON(filepath.Join(dir, artifact.ManifestFile), m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Read loads artifacts_manifest.json from dir.
func Read(dir string) (Manifest, error) {
	var m Manifest
	if err := artifact.ReadJSON(filepath.Join(dir, artifact.ManifestFile), &m); err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

// Verify rehashes every file listed in dir's manifest and returns the ones
// that changed or disappeared, sorted by name. Files named in appendOnly may
// have grown since the manifest was written: they match as long as the
// recorded digest is that of a line-aligned prefix of the current file.
func Verify(dir string, appendOnly ...string) ([]Mismatch, error) {
	m, err := Read(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.Files))
	for n := range m.Files {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []Mismatch
	for _, n := range names {
		want := m.Files[n]
		if !strings.HasPrefix(want, digestPrefix) {
			return nil, fmt.Errorf("verify manifest: %s has unsupported digest %q", n, want)
		}
		got, err := HashFile(filepath.Join(dir, n))
		if errors.Is(err, os.ErrNotExist) {
			out = append(out, Mismatch{File: n, Want: want})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("verify manifest: %w", err)
		}
		if got == want {
			continue
		}
		if slices.Contains(appendOnly, n) {
			ok, err := HasPrefixDigest(filepath.Join(dir, n), want)
			if err != nil {
				return nil, fmt.Errorf("verify manifest: %w", err)
			}
			if ok {
				continue
			}
		}
		out = append(out, Mismatch{File: n, Want: want, Got: got})
	}
	return out, nil
}

// HasPrefixDigest reports whether want is the digest of some prefix of the
// file at path ending on a newline.
func HasPrefixDigest(path, want string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	h := sha256.New()
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		h.Write(data[:i+1])
		data = data[i+1:]
		if digestPrefix+hex.EncodeToString(h.Sum(nil)) == want {
			return true, nil
		}
	}
	return false, nil
}

// #endregion persist
