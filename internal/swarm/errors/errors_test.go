package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  *AppError
		code string
		want int
	}{
		{"not found", NotFound("task", "t1"), ErrCodeNotFound, http.StatusNotFound},
		{"bad request", BadRequest("missing field"), ErrCodeBadRequest, http.StatusBadRequest},
		{"conflict", Conflict("already running"), ErrCodeConflict, http.StatusConflict},
		{"validation", ValidationError("name", "required"), ErrCodeValidationError, http.StatusBadRequest},
		{"internal", InternalError("boom", nil), ErrCodeInternalError, http.StatusInternalServerError},
		{"unavailable", ServiceUnavailable("memory"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"timeout", Timeout("dispatch"), ErrCodeTimeout, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.want, tc.err.HTTPStatus)
			assert.Equal(t, tc.want, GetHTTPStatus(tc.err))
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestNotFoundIsDetectable(t *testing.T) {
	err := NotFound("swarm", "s1")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(BadRequest("x")))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestWrapPreservesAppErrorCodeAndStatus(t *testing.T) {
	inner := NotFound("task", "t1")
	wrapped := Wrap(inner, "assigning task")

	assert.Equal(t, ErrCodeNotFound, wrapped.Code)
	assert.Equal(t, http.StatusNotFound, wrapped.HTTPStatus)
	assert.Contains(t, wrapped.Message, "assigning task")
	assert.True(t, errors.Is(wrapped, inner))
}

func TestWrapOfPlainErrorBecomesInternal(t *testing.T) {
	inner := errors.New("disk full")
	wrapped := Wrap(inner, "saving checkpoint")

	assert.Equal(t, ErrCodeInternalError, wrapped.Code)
	assert.Equal(t, http.StatusInternalServerError, wrapped.HTTPStatus)
	assert.ErrorIs(t, wrapped, inner)
}

func TestWrapOfNilReturnsNil(t *testing.T) {
	require.Nil(t, Wrap(nil, "whatever"))
}

func TestGetHTTPStatusDefaultsToInternalServerError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("plain")))
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrCyclicDependency, ErrNoCapableAgent, ErrUnmetDependency,
		ErrSessionArchived, ErrSessionNotPaused, ErrStorageUnavailable,
		ErrExecutionTimeout, ErrRetriesExhausted, ErrAgentBusy,
	}
	seen := make(map[string]bool)
	for _, s := range sentinels {
		assert.False(t, seen[s.Error()], "duplicate sentinel message: %s", s.Error())
		seen[s.Error()] = true
	}
}
