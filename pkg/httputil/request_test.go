package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type issueBody struct {
	Permissions []string `json:"permissions"`
}

func TestParseJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"permissions":["payments:read"]}`))
		var body issueBody
		require.NoError(t, ParseJSON(httptest.NewRecorder(), req, &body))
		assert.Equal(t, []string{"payments:read"}, body.Permissions)
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var body issueBody
		err := ParseJSON(httptest.NewRecorder(), req, &body)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"perms":[]}`))
		var body issueBody
		assert.Error(t, ParseJSON(httptest.NewRecorder(), req, &body))
	})

	t.Run("trailing data", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"permissions":[]} {}`))
		var body issueBody
		assert.Error(t, ParseJSON(httptest.NewRecorder(), req, &body))
	})
}

func TestParseJSONOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	var body issueBody

	assert.False(t, ParseJSONOrError(rec, req, &body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "KEY_001", string(decodeError(t, rec).Code))
}

func TestPathParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/keys/abc", nil)
	req = mux.SetURLVars(req, map[string]string{"hash": "abc"})

	assert.Equal(t, "abc", PathParam(req, "hash"))
	assert.Equal(t, "", PathParam(req, "missing"))
}
