package errs

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(http.StatusBadRequest, "name '%s' is reserved", "infisical-relay")
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusBadRequest, e.StatusCode())
	assert.Equal(t, "name 'infisical-relay' is reserved", e.Message())
	assert.Equal(t, "name 'infisical-relay' is reserved", e.Error())
}

func TestWrap_nil(t *testing.T) {
	assert.NoError(t, Wrap(http.StatusBadRequest, nil, "ignored"))
	assert.NoError(t, Wrapf(http.StatusBadRequest, nil, "ignored %d", 1))
}

func TestWrap_keepsInnerStatus(t *testing.T) {
	inner := NotFound("proxy with name '%s' not found", "relay-1")
	err := Wrap(http.StatusInternalServerError, inner, "loading credentials")

	var e *Error
	require.True(t, errors.As(err, &e))
	// the original Error is preserved along with its status
	assert.Equal(t, http.StatusNotFound, e.StatusCode())
	assert.Contains(t, e.Error(), "loading credentials")
	assert.Contains(t, e.Error(), "proxy with name 'relay-1' not found")
}

func TestNewErr_statusCoder(t *testing.T) {
	inner := &Error{Status: http.StatusForbidden, Err: errors.New("denied")}
	err := NewErr(http.StatusInternalServerError, inner)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusForbidden, e.StatusCode())
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{NotFound("x"), IsNotFound},
		{BadRequest("x"), IsBadRequest},
		{Unauthorized("x"), IsUnauthorized},
		{Forbidden("x"), IsForbidden},
		{NotFoundErr(errors.New("x")), IsNotFound},
		{BadRequestErr(errors.New("x"), "y"), IsBadRequest},
		{UnauthorizedErr(errors.New("x")), IsUnauthorized},
		{ForbiddenErr(errors.New("x"), "y"), IsForbidden},
	}
	for i, tc := range tests {
		assert.True(t, tc.check(tc.err), "case %d", i)
	}
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsBadRequest(nil))
}

func TestError_MarshalJSON(t *testing.T) {
	e := &Error{Status: http.StatusNotFound, Err: fmt.Errorf("ssh host not found")}
	b, err := e.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":404,"message":"Not Found"}`, string(b))

	e.Msg = "SSH host with ID 'abc' not found"
	b, err = e.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":404,"message":"SSH host with ID 'abc' not found"}`, string(b))
}

func TestError_UnmarshalJSON(t *testing.T) {
	var e Error
	require.NoError(t, e.UnmarshalJSON([]byte(`{"status":400,"message":"bad"}`)))
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Equal(t, "bad", e.Err.Error())
}

func TestWithKeyVal(t *testing.T) {
	err := NotFoundErr(errors.New("missing"), WithKeyVal("proxyId", "p1"))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "p1", e.Details["proxyId"])
}
