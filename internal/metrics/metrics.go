// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Token verification outcomes.
const (
	OutcomeValid   = "valid"
	OutcomeExpired = "expired"
	OutcomeInvalid = "invalid"
)

// Login results.
const (
	LoginSuccess     = "success"
	LoginFailure     = "failure"
	LoginRateLimited = "rate_limited"
)

// Audit event outcomes.
const (
	AuditSuccess      = "success"
	AuditDropped      = "dropped"
	AuditFailed       = "failed"
	AuditDeadLettered = "dead_lettered"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// User management metrics
	IncUserCreated()
	IncUserUpdated()
	IncPasswordChanged()
	ObserveHashDuration(duration time.Duration)

	// Authentication metrics
	IncLoginSucceeded()
	IncLoginFailed()
	IncLoginRateLimited()
	IncTokenVerified(outcome string) // outcome: "valid", "expired", "invalid"

	// Audit stream metrics
	IncAuditEventPublished(outcome string) // outcome: "success", "dropped"
	IncAuditEventProcessed(outcome string) // outcome: "success", "failed", "dead_lettered"
	SetAuditQueueDepth(depth int64)
}
