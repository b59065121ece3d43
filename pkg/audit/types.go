package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Credential events
	EventTypeAPIKeyValidate   EventType = "authn.apikey_validate"
	EventTypeAPIKeyIssue      EventType = "apikey.issue"
	EventTypeAPIKeyDeactivate EventType = "apikey.deactivate"
	EventTypeAPIKeyActivate   EventType = "apikey.activate"

	// Authorization events
	EventTypeAuthzRoleCheck       EventType = "authz.role_check"
	EventTypeAuthzPermissionCheck EventType = "authz.permission_check"
	EventTypeAuthzOwnerCheck      EventType = "authz.owner_check"

	// Rate limiting
	EventTypeRateLimitExceeded EventType = "ratelimit.exceeded"
	EventTypeRateLimitDegraded EventType = "ratelimit.store_failure"
)

// Decision represents the outcome of an event
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionDeny    Decision = "deny"
	DecisionSuccess Decision = "success"
	DecisionFailure Decision = "failure"
)

// Event is a single audit entry
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`

	// Request context
	Endpoint  string `json:"endpoint,omitempty"`
	Method    string `json:"method,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	// Requirement and actual identity
	Required      []string `json:"required,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	Owner         string   `json:"owner,omitempty"`
	ResourceOwner string   `json:"resource_owner,omitempty"`

	// KeyHash is truncated to a short prefix before logging
	KeyHash string `json:"key_hash,omitempty"`
}

// NewEvent builds an event stamped with the request's endpoint, method,
// client address and request ID. r may be nil.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, decision Decision) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Decision:  decision,
		RequestID: contextkeys.GetRequestID(ctx),
	}

	if r != nil {
		event.Method = r.Method
		event.Endpoint = r.URL.Path
		event.IPAddress = remoteHost(r.RemoteAddr)
	}

	return event
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ShortHash returns the first 12 characters of a key hash
func ShortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
