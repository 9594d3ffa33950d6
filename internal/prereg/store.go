package prereg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

// #region store
// Store persists the preregistration of one output directory. prereg.json is
// written once; it is never overwritten.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the prereg.json path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, artifact.PreregFile)
}

// Persist writes p to prereg.json. If a preregistration already exists with
// the same AEQ/CID the stored one is returned unchanged; a different one is
// rejected with errs.ErrPreregistrationFrozen. A stored file whose content no
// longer derives its recorded AEQ/CID is rejected as malformed.
func (s *Store) Persist(p Preregistration) (Preregistration, error) {
	if !p.IsFrozen() {
		return Preregistration{}, fmt.Errorf("persist: %w", errs.ErrNotPreregistered)
	}

	err := artifact.WriteJSONExclusive(s.Path(), p.Document())
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, artifact.ErrExists) {
		return Preregistration{}, fmt.Errorf("persist preregistration: %w", err)
	}

	existing, err := s.Load()
	if err != nil {
		return Preregistration{}, err
	}
	if err := existing.Verify(); err != nil {
		return Preregistration{}, fmt.Errorf("%w: %s: %w", errs.ErrMalformedPreregistration, s.Path(), errors.Join(errs.ErrIntegrity, err))
	}
	if existing.AEQ() != p.AEQ() || existing.CID() != p.CID() {
		return Preregistration{}, fmt.Errorf("%w: %s already holds %s/%s, refusing %s/%s",
			errs.ErrPreregistrationFrozen, s.dir, existing.AEQ(), existing.CID(), p.AEQ(), p.CID())
	}
	return existing, nil
}

// Load reads the frozen preregistration, or returns errs.ErrNotPreregistered.
func (s *Store) Load() (Preregistration, error) {
	if _, err := os.Stat(s.Path()); errors.Is(err, os.ErrNotExist) {
		return Preregistration{}, fmt.Errorf("%s: %w", s.dir, errs.ErrNotPreregistered)
	}
	var doc Document
	if err := artifact.ReadJSON(s.Path(), &doc); err != nil {
		return Preregistration{}, fmt.Errorf("%w: %v", errs.ErrMalformedPreregistration, err)
	}
	return FromDocument(doc)
}

// #endregion store
