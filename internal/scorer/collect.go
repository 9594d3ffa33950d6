// Package scorer is the boundary to the procedure under test: a Scorer
// returns one metric per condition, and Collect gathers them for a run.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

// #region collect
// Collect scores every condition once. A scorer failure or a non-finite value
// marks that condition missing instead of aborting; only context cancellation
// aborts the collection.
func Collect(ctx context.Context, s Scorer, conds []Condition, seed int64, log *slog.Logger) (Metrics, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := NewMetrics()
	for _, c := range conds {
		if err := ctx.Err(); err != nil {
			return m, fmt.Errorf("collect metrics: %w", err)
		}
		v, err := s.Score(ctx, c, seed)
		switch {
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil:
			return m, fmt.Errorf("score %s: %w", c, err)
		case err != nil:
			log.Warn("scorer returned no value", "condition", c, "error", err)
			m.MarkMissing(c, err.Error())
		case math.IsNaN(v) || math.IsInf(v, 0):
			log.Warn("scorer returned non-finite value", "condition", c, "value", v)
			m.MarkMissing(c, fmt.Sprintf("%v: non-finite score %v", errs.ErrMissingMetric, v))
		default:
			log.Debug("scored condition", "condition", c, "value", v)
			m.Set(c, v)
		}
	}
	return m, nil
}

// #endregion collect

// #region static
// Static is a Scorer over fixed values; conditions without a value report ErrMissingMetric.
type Static map[Condition]float64

// Score returns the fixed value for cond.
func (s Static) Score(_ context.Context, cond Condition, _ int64) (float64, error) {
	v, ok := s[cond]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errs.ErrMissingMetric, cond)
	}
	return v, nil
}

// #endregion static
