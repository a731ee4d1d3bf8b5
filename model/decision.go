package model

import "time"

// PolicyMode tags the policy stage in effect when a DecisionRecord was
// produced. It mirrors ActiveMode but is the serialized, external-facing
// name (spec.md calls out Shadow for Observe specifically).
type PolicyMode int

const (
	PolicyShadow PolicyMode = iota
	PolicyCanary
	PolicyEnforce
	PolicyFallback
)

func (m PolicyMode) String() string {
	switch m {
	case PolicyShadow:
		return "Shadow"
	case PolicyCanary:
		return "Canary"
	case PolicyEnforce:
		return "Enforce"
	case PolicyFallback:
		return "Fallback"
	default:
		return "Unknown"
	}
}

// GuardStatus is the calibration guardrail's verdict.
type GuardStatus int

const (
	GuardUnknown GuardStatus = iota
	GuardPass
	GuardFail
)

func (s GuardStatus) String() string {
	switch s {
	case GuardPass:
		return "Pass"
	case GuardFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// DecisionRecord is an immutable audit entry. It is produced for every
// scored candidate regardless of policy mode — the audit trail is
// universal, per spec.md §4.J.
type DecisionRecord struct {
	DecisionID     uint64    `json:"decision_id"`
	TraceID        string    `json:"trace_id"`
	Timestamp      time.Time `json:"timestamp"`
	Path           string    `json:"path"`
	SizeBytes      uint64    `json:"size_bytes"`
	AgeSecs        int64     `json:"age_secs"`
	PolicyMode     string    `json:"policy_mode"`
	Action         string    `json:"action"`
	EffectiveAction string   `json:"effective_action"`
	TotalScore     float64   `json:"total_score"`
	Factors        FactorBreakdown `json:"factors"`
	Vetoed         bool      `json:"vetoed"`
	VetoReason     string    `json:"veto_reason,omitempty"`
	GuardStatus    string    `json:"guard_status"`
}
