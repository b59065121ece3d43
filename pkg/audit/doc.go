// Package audit records one structured entry per access decision.
//
// Guards, credential validation, the rate limiter and key management all
// report through a Logger:
//
//	auditor := audit.NewMultiLogger(
//		audit.NewLogLogger(logger, metrics),
//		fileLogger,
//	)
//	auditor.Log(ctx, audit.NewEvent(ctx, r, audit.EventTypeAuthzRoleCheck, audit.DecisionDeny))
//
// Raw API keys never appear in events; only the key hash prefix does.
package audit
