// Package identity derives the AEQ and CID fingerprints that bind a run's
// results and ledger entries to the exact preregistered thresholds.
//
// Canonical form: the payload is encoded as JSON and normalized with RFC 8785
// (JCS). AEQ is the SHA-256 of that canonical form; CID is the SHA-256 of
// "<AEQ>:<seed>:<mode>". Both are truncated to IDLength hex characters.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/gowebpki/jcs"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

// #region derive
// Derive computes (AEQ, CID) for p. It is a pure function of p's content.
func Derive(p Payload) (aeq ID, cid ID, err error) {
	canon, err := Canonical(p)
	if err != nil {
		return "", "", err
	}
	aeq = hashID(canon)
	cid = hashID([]byte(fmt.Sprintf("%s:%d:%s", aeq, *p.Seed, p.Mode)))
	return aeq, cid, nil
}

// Verify recomputes the identifiers for p and compares them with the recorded pair.
func Verify(p Payload, aeq, cid ID) error {
	gotAEQ, gotCID, err := Derive(p)
	if err != nil {
		return err
	}
	if gotAEQ != aeq || gotCID != cid {
		return fmt.Errorf("identity mismatch: recorded %s/%s, recomputed %s/%s", aeq, cid, gotAEQ, gotCID)
	}
	return nil
}

// #endregion derive

// #region canonical
// Canonical returns the JCS serialization of p after validation.
func Canonical(p Payload) ([]byte, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	conds := make([]string, len(p.Conditions))
	copy(conds, p.Conditions)

	raw, err := json.Marshal(canonicalPayload{
		Thresholds: canonicalThresholds{
			DeltaMin:    *p.DeltaMin,
			ControlMax:  *p.ControlMax,
			BaselineMin: p.BaselineMin,
		},
		Seed:       strconv.FormatInt(*p.Seed, 10),
		Mode:       p.Mode,
		Metric:     p.Metric,
		Conditions: conds,
		Notes:      p.Notes,
		Metadata:   p.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canon, nil
}

// Validate reports ErrMalformedPreregistration when a required field is absent or invalid.
func Validate(p Payload) error {
	switch {
	case p.DeltaMin == nil:
		return fmt.Errorf("%w: delta threshold is required", errs.ErrMalformedPreregistration)
	case p.ControlMax == nil:
		return fmt.Errorf("%w: negative-control threshold is required", errs.ErrMalformedPreregistration)
	case p.Seed == nil:
		return fmt.Errorf("%w: seed is required", errs.ErrMalformedPreregistration)
	case p.Mode == "":
		return fmt.Errorf("%w: mode is required", errs.ErrMalformedPreregistration)
	case len(p.Conditions) == 0:
		return fmt.Errorf("%w: at least one condition is required", errs.ErrMalformedPreregistration)
	}
	if !finite(*p.DeltaMin) {
		return fmt.Errorf("%w: delta threshold %v is not finite", errs.ErrMalformedPreregistration, *p.DeltaMin)
	}
	if !finite(*p.ControlMax) || *p.ControlMax < 0 {
		return fmt.Errorf("%w: negative-control threshold %v must be finite and >= 0", errs.ErrMalformedPreregistration, *p.ControlMax)
	}
	if p.BaselineMin != nil && !finite(*p.BaselineMin) {
		return fmt.Errorf("%w: baseline floor %v is not finite", errs.ErrMalformedPreregistration, *p.BaselineMin)
	}
	return nil
}

// #endregion canonical

// #region helpers
func hashID(b []byte) ID {
	sum := sha256.Sum256(b)
	return ID(hex.EncodeToString(sum[:])[:IDLength])
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// #endregion helpers
