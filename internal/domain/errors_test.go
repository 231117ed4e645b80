package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf_TypedErrors(t *testing.T) {
	assert.Equal(t, CategoryTransient, CategoryOf(Transient("timeout", nil)))
	assert.Equal(t, CategoryPermanent, CategoryOf(Permanent("bad response", nil)))
	assert.Equal(t, CategoryValidation, CategoryOf(Validation("unknown product type", nil)))
	assert.Equal(t, CategoryPermanent, CategoryOf(Input("zero-byte file", nil)))
	assert.Equal(t, CategoryPermanent, CategoryOf(Invariant("duplicate chunk index", nil)))
	assert.Equal(t, CategoryConfiguration, CategoryOf(Configuration("missing dsn", nil)))
}

func TestCategoryOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("stage body: %w", Permanent("dimension mismatch", nil))
	assert.Equal(t, CategoryPermanent, CategoryOf(err))
	assert.False(t, IsTransient(err))
}

func TestCategoryOf_UntypedDefaultsTransient(t *testing.T) {
	assert.Equal(t, CategoryTransient, CategoryOf(errors.New("connection reset")))
	assert.True(t, IsTransient(errors.New("connection reset")))
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := Transient("embed batch", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient_service")
	assert.Contains(t, err.Error(), "i/o timeout")
}
