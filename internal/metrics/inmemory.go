package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UsersCreated        uint64
	UsersUpdated        uint64
	PasswordsChanged    uint64
	HashDurationCount   uint64
	HashDurationTotalNs int64
	LoginsSucceeded     uint64
	LoginsFailed        uint64
	LoginsRateLimited   uint64
	TokensValid         uint64
	TokensExpired       uint64
	TokensInvalid       uint64
	AuditPublished      uint64
	AuditDropped        uint64
	AuditProcessed      uint64
	AuditFailed         uint64
	AuditDeadLettered   uint64
	AuditQueueDepth     int64
}

// InMemoryRecorder keeps counters in process memory. Tests read them back
// through Snapshot.
type InMemoryRecorder struct {
	usersCreated        atomic.Uint64
	usersUpdated        atomic.Uint64
	passwordsChanged    atomic.Uint64
	hashDurationCount   atomic.Uint64
	hashDurationTotalNs atomic.Int64
	loginsSucceeded     atomic.Uint64
	loginsFailed        atomic.Uint64
	loginsRateLimited   atomic.Uint64
	tokensValid         atomic.Uint64
	tokensExpired       atomic.Uint64
	tokensInvalid       atomic.Uint64
	auditPublished      atomic.Uint64
	auditDropped        atomic.Uint64
	auditProcessed      atomic.Uint64
	auditFailed         atomic.Uint64
	auditDeadLettered   atomic.Uint64
	auditQueueDepth     atomic.Int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		UsersCreated:        m.usersCreated.Load(),
		UsersUpdated:        m.usersUpdated.Load(),
		PasswordsChanged:    m.passwordsChanged.Load(),
		HashDurationCount:   m.hashDurationCount.Load(),
		HashDurationTotalNs: m.hashDurationTotalNs.Load(),
		LoginsSucceeded:     m.loginsSucceeded.Load(),
		LoginsFailed:        m.loginsFailed.Load(),
		LoginsRateLimited:   m.loginsRateLimited.Load(),
		TokensValid:         m.tokensValid.Load(),
		TokensExpired:       m.tokensExpired.Load(),
		TokensInvalid:       m.tokensInvalid.Load(),
		AuditPublished:      m.auditPublished.Load(),
		AuditDropped:        m.auditDropped.Load(),
		AuditProcessed:      m.auditProcessed.Load(),
		AuditFailed:         m.auditFailed.Load(),
		AuditDeadLettered:   m.auditDeadLettered.Load(),
		AuditQueueDepth:     m.auditQueueDepth.Load(),
	}
}

// IncUserCreated increments the users created counter.
func (m *InMemoryRecorder) IncUserCreated() { m.usersCreated.Add(1) }

// IncUserUpdated increments the users updated counter.
func (m *InMemoryRecorder) IncUserUpdated() { m.usersUpdated.Add(1) }

// IncPasswordChanged increments the password change counter.
func (m *InMemoryRecorder) IncPasswordChanged() { m.passwordsChanged.Add(1) }

// ObserveHashDuration records time spent deriving a digest.
func (m *InMemoryRecorder) ObserveHashDuration(duration time.Duration) {
	m.hashDurationCount.Add(1)
	m.hashDurationTotalNs.Add(duration.Nanoseconds())
}

// IncLoginSucceeded increments the successful login counter.
func (m *InMemoryRecorder) IncLoginSucceeded() { m.loginsSucceeded.Add(1) }

// IncLoginFailed increments the failed login counter.
func (m *InMemoryRecorder) IncLoginFailed() { m.loginsFailed.Add(1) }

// IncLoginRateLimited increments the throttled login counter.
func (m *InMemoryRecorder) IncLoginRateLimited() { m.loginsRateLimited.Add(1) }

// IncTokenVerified counts a verification by outcome. Unknown outcomes are
// counted as invalid.
func (m *InMemoryRecorder) IncTokenVerified(outcome string) {
	switch outcome {
	case OutcomeValid:
		m.tokensValid.Add(1)
	case OutcomeExpired:
		m.tokensExpired.Add(1)
	default:
		m.tokensInvalid.Add(1)
	}
}

// IncAuditEventPublished counts an audit publish attempt by outcome.
func (m *InMemoryRecorder) IncAuditEventPublished(outcome string) {
	if outcome == AuditSuccess {
		m.auditPublished.Add(1)
		return
	}
	m.auditDropped.Add(1)
}

// IncAuditEventProcessed counts a consumed audit event by outcome.
func (m *InMemoryRecorder) IncAuditEventProcessed(outcome string) {
	switch outcome {
	case AuditSuccess:
		m.auditProcessed.Add(1)
	case AuditDeadLettered:
		m.auditDeadLettered.Add(1)
	default:
		m.auditFailed.Add(1)
	}
}

// SetAuditQueueDepth records pending plus unread audit events.
func (m *InMemoryRecorder) SetAuditQueueDepth(depth int64) { m.auditQueueDepth.Store(depth) }
