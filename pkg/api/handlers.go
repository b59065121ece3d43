package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Built-in handler names referenced by the route table
const (
	HandlerIssueKey      = "keys.issue"
	HandlerGetKey        = "keys.get"
	HandlerDeactivateKey = "keys.deactivate"
	HandlerActivateKey   = "keys.activate"
	HandlerIdentity      = "identity"
	HandlerEcho          = "echo"
)

// IssueKeyRequest is the body of POST /api/keys. Permissions stays raw so a
// non-array value is reported as a validation error rather than a decode
// failure.
type IssueKeyRequest struct {
	Permissions json.RawMessage `json:"permissions"`
}

// KeyView is the external representation of a stored key
type KeyView struct {
	Hash        string            `json:"hash"`
	Permissions []auth.Permission `json:"permissions"`
	IsActive    bool              `json:"isActive"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// IdentityResponse describes the caller as the gateway sees it
type IdentityResponse struct {
	Roles       []string          `json:"roles"`
	Owner       string            `json:"owner"`
	Permissions []auth.Permission `json:"permissions"`
}

// EchoResponse is returned by routes that stand in for collaborator services
type EchoResponse struct {
	Route  string            `json:"route"`
	Method string            `json:"method"`
	Vars   map[string]string `json:"vars"`
}

func (s *Server) builtinHandlers() map[string]http.Handler {
	return map[string]http.Handler{
		HandlerIssueKey:      http.HandlerFunc(s.issueKey),
		HandlerGetKey:        http.HandlerFunc(s.getKey),
		HandlerDeactivateKey: http.HandlerFunc(s.deactivateKey),
		HandlerActivateKey:   http.HandlerFunc(s.activateKey),
		HandlerIdentity:      http.HandlerFunc(s.identity),
		HandlerEcho:          http.HandlerFunc(s.echo),
	}
}

// issueKey handles POST /api/keys
func (s *Server) issueKey(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permissions, err := permissionTokens(req.Permissions)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	issued, err := s.keys.Issue(r.Context(), permissions)
	if err != nil {
		s.writeKeyError(w, r, "issue", err)
		return
	}

	httputil.WriteCreated(w, issued)
}

// permissionTokens decodes the requested permissions, naming the first
// element that is not a string.
func permissionTokens(raw json.RawMessage) ([]string, error) {
	var elems []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &elems) != nil || elems == nil {
		return nil, &auth.ValidationError{Field: "permissions", Message: "must be a non-empty array of permissions"}
	}

	permissions := make([]string, 0, len(elems))
	for _, elem := range elems {
		var token string
		if err := json.Unmarshal(elem, &token); err != nil {
			return nil, &auth.ValidationError{Field: "permissions", Message: fmt.Sprintf("invalid permission %s", elem)}
		}
		permissions = append(permissions, token)
	}
	return permissions, nil
}

// getKey handles GET /api/keys/{hash}
func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	hash := httputil.PathParam(r, "hash")
	record, err := s.keys.Get(r.Context(), hash)
	if err != nil {
		s.writeKeyError(w, r, "get", err)
		return
	}
	httputil.WriteSuccess(w, keyView(hash, record))
}

// deactivateKey handles DELETE /api/keys/{hash}
func (s *Server) deactivateKey(w http.ResponseWriter, r *http.Request) {
	hash := httputil.PathParam(r, "hash")
	record, err := s.keys.Deactivate(r.Context(), hash)
	if err != nil {
		s.writeKeyError(w, r, "deactivate", err)
		return
	}
	httputil.WriteSuccess(w, keyView(hash, record))
}

// activateKey handles POST /api/keys/{hash}/activate
func (s *Server) activateKey(w http.ResponseWriter, r *http.Request) {
	hash := httputil.PathParam(r, "hash")
	record, err := s.keys.Activate(r.Context(), hash)
	if err != nil {
		s.writeKeyError(w, r, "activate", err)
		return
	}
	httputil.WriteSuccess(w, keyView(hash, record))
}

// identity returns the caller's roles, owner and derived permissions
func (s *Server) identity(w http.ResponseWriter, r *http.Request) {
	ac, state := auth.AuthContextFromContext(r.Context())
	if state != auth.ContextValid {
		httputil.WriteError(w, auth.ErrMissingAuthContext)
		return
	}

	httputil.WriteSuccess(w, IdentityResponse{
		Roles:       ac.Roles,
		Owner:       ac.Owner,
		Permissions: s.catalog.Current().PermissionsForRoles(ac.Roles).Sorted(),
	})
}

func (s *Server) echo(w http.ResponseWriter, r *http.Request) {
	resp := EchoResponse{Method: r.Method, Vars: mux.Vars(r)}
	if route := mux.CurrentRoute(r); route != nil {
		resp.Route = route.GetName()
	}
	if resp.Vars == nil {
		resp.Vars = map[string]string{}
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) writeKeyError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if auth.HTTPStatus(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context(), s.logger).
			WithError(err).
			WithField("operation", op).
			Error("API key operation failed")
	}
	httputil.WriteError(w, err)
}

func keyView(hash string, record *auth.APIKeyRecord) KeyView {
	return KeyView{
		Hash:        hash,
		Permissions: record.Permissions,
		IsActive:    record.IsActive,
		CreatedAt:   record.CreatedAt,
	}
}
