package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindDependencyFailure, http.StatusInternalServerError},
		{KindInvariantViolation, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, StatusCode(New(tc.kind, "boom")))
		})
	}
}

func TestStatusCodeUnwrappedError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain error")))
}

func TestStatusCodeWrappedInFmtErrorf(t *testing.T) {
	err := fmt.Errorf("context: %w", NotFound("library %q", "lib-1"))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestErrorMessageWithCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindDependencyFailure, "failed to persist index", cause)
	assert.Contains(t, err.Error(), "failed to persist index")
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, cause)
}

func TestAsExtractsError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Validation("bad dimension"))
	apiErr, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindValidation, apiErr.Kind)
}

func TestAsFailsForPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)
}
