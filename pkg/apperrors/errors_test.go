package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("job", "abc"), http.StatusNotFound},
		{ValidationError("duplicate id"), http.StatusUnprocessableEntity},
		{InvalidTransition(fmt.Errorf("bad")), http.StatusBadRequest},
		{Conflict("frozen field"), http.StatusConflict},
		{NotImplemented("bulk delete"), http.StatusNotImplemented},
		{AuthFailure("no owner"), http.StatusUnauthorized},
		{Internal("boom", fmt.Errorf("db down")), http.StatusInternalServerError},
		{fmt.Errorf("plain error"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err))
	}
}

func TestToBodyDefaultsUnknownErrors(t *testing.T) {
	body := ToBody(fmt.Errorf("something else"))
	assert.Equal(t, string(KindInternal), body.Kind)
}

func TestUnwrap(t *testing.T) {
	base := fmt.Errorf("root cause")
	wrapped := Internal("context", base)
	assert.ErrorIs(t, wrapped, base)
}
