package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerWriteErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("append: %w", LedgerWrite("fsync", io.ErrShortWrite))

	assert.ErrorIs(t, err, ErrLedgerWrite)
	assert.ErrorIs(t, err, io.ErrShortWrite)

	var lwe *LedgerWriteError
	assert.True(t, errors.As(err, &lwe))
	assert.Equal(t, "fsync", lwe.Op)
}

func TestLedgerWriteNil(t *testing.T) {
	assert.NoError(t, LedgerWrite("write", nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
		code int
	}{
		{"malformed", fmt.Errorf("derive: %w", ErrMalformedPreregistration), Preregistration, ExitPreregistration},
		{"frozen", ErrPreregistrationFrozen, Preregistration, ExitPreregistration},
		{"not preregistered", ErrNotPreregistered, Preregistration, ExitPreregistration},
		{"reveal", ErrRevealNotApplicable, Preregistration, ExitPreregistration},
		{"missing metric", fmt.Errorf("collect: %w", ErrMissingMetric), Measurement, ExitMeasurement},
		{"ledger", LedgerWrite("open", io.EOF), Storage, ExitStorage},
		{"integrity", fmt.Errorf("verify out: %w", ErrIntegrity), Storage, ExitStorage},
		{"locked", fmt.Errorf("lock workspace out: %w", ErrWorkspaceLocked), Storage, ExitStorage},
		{"argument", Argumentf("bad seed %q", "x"), Argument, ExitArgument},
		{"other", errors.New("boom"), Internal, ExitInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.Equal(t, tt.code, ExitCode(tt.err))
		})
	}
}

func TestExitCodeNil(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "storage problem", Storage.String())
	assert.Equal(t, "internal error", Category(99).String())
}
