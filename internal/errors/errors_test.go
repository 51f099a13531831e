package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-cost-allocation/internal/errors"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *errors.Error
		expected string
	}{
		{
			name:     "without cause",
			err:      errors.New(errors.TypeCycleUnbreakable, "no precedence pair"),
			expected: "[CYCLE_UNBREAKABLE] no precedence pair",
		},
		{
			name:     "with cause",
			err:      errors.Wrap(errors.TypeConfig, "cannot load", stderrors.New("missing file")),
			expected: "[CONFIG_ERROR] cannot load: missing file",
		},
		{
			name:     "formatted",
			err:      errors.Newf(errors.TypeCurrencyMismatch, "currency %s differs from %s", "usd", "eur"),
			expected: "[CURRENCY_MISMATCH] currency usd differs from eur",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestIsTypeFollowsChain(t *testing.T) {
	inner := errors.New(errors.TypeCycleBreakLimit, "too many breaks")
	outer := errors.Wrap(errors.TypeInternal, "allocation failed", inner)
	wrapped := fmt.Errorf("run: %w", outer)

	assert.True(t, errors.IsType(wrapped, errors.TypeInternal))
	assert.True(t, errors.IsType(wrapped, errors.TypeCycleBreakLimit))
	assert.False(t, errors.IsType(wrapped, errors.TypeConfig))
	assert.False(t, errors.IsType(stderrors.New("plain"), errors.TypeInternal))
	assert.False(t, errors.IsType(nil, errors.TypeInternal))
}

func TestTypeOfAndContext(t *testing.T) {
	err := errors.Input("bad line").WithContext("line", 3)
	require.Equal(t, errors.TypeInput, errors.TypeOf(err))
	assert.Equal(t, 3, err.Context["line"])
	assert.Equal(t, "[INPUT_ERROR] bad line (line=3)", err.Error())

	err = errors.Wrap(errors.TypeParsing, "bad amount", stderrors.New("NaN")).
		WithContext("line", 7).
		WithContext("column", "EffectiveCost")
	assert.Equal(t, "[PARSING_ERROR] bad amount (column=EffectiveCost line=7): NaN", err.Error())
	assert.Equal(t, errors.Type(""), errors.TypeOf(stderrors.New("plain")))
}
