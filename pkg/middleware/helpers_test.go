package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// recordingAudit keeps every event in memory
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (a *recordingAudit) Log(_ context.Context, event *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) Events() []*audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*audit.Event(nil), a.events...)
}

// countingHandler counts invocations of the next stage
type countingHandler struct {
	calls int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	w.WriteHeader(http.StatusOK)
}

// withIdentity attaches any identity value, including malformed ones
func withIdentity(r *http.Request, ac interface{}) *http.Request {
	return r.WithContext(contextkeys.WithAuth(r.Context(), ac))
}

func decodePayload(t *testing.T, rec *httptest.ResponseRecorder) auth.ErrorResponse {
	t.Helper()
	var payload auth.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}
