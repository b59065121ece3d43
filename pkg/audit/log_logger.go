package audit

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// LogLogger writes events through the structured application logger and
// counts authorization decisions.
type LogLogger struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLogLogger creates a logger-backed audit sink. metrics may be nil.
func NewLogLogger(logger *observability.Logger, metrics *observability.Metrics) *LogLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogLogger{logger: logger, metrics: metrics}
}

// Log implements Logger. Denials and failures log at warn, the rest at info.
func (l *LogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit":      true,
		"event_type": string(event.EventType),
		"decision":   string(event.Decision),
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.Endpoint != "" {
		fields["endpoint"] = event.Endpoint
		fields["method"] = event.Method
	}
	if event.IPAddress != "" {
		fields["ip_address"] = event.IPAddress
	}
	if event.Required != nil {
		fields["required"] = event.Required
	}
	if event.Roles != nil {
		fields["roles"] = event.Roles
	}
	if event.Permissions != nil {
		fields["permissions"] = event.Permissions
	}
	if event.Owner != "" {
		fields["owner"] = event.Owner
	}
	if event.ResourceOwner != "" {
		fields["resource_owner"] = event.ResourceOwner
	}
	if event.KeyHash != "" {
		fields["key_hash"] = ShortHash(event.KeyHash)
	}

	logger := observability.FromContext(ctx, l.logger).WithFields(fields)
	message := event.Message
	if message == "" {
		message = string(event.EventType)
	}

	switch event.Decision {
	case DecisionDeny, DecisionFailure:
		logger.Warn(message)
	default:
		logger.Info(message)
	}

	if guard := guardName(event.EventType); guard != "" {
		l.metrics.RecordAuthzDecision(guard, event.Decision == DecisionAllow, event.Reason)
	}
	return nil
}

// Close implements Logger
func (l *LogLogger) Close() error { return nil }

func guardName(t EventType) string {
	switch t {
	case EventTypeAuthzRoleCheck:
		return "roles"
	case EventTypeAuthzPermissionCheck:
		return "permissions"
	case EventTypeAuthzOwnerCheck:
		return "owner"
	default:
		return ""
	}
}
