// Package audit contains the tamper-evident audit log: the canonical event
// model, the hash chain, the recorder every sensitive-action handler calls,
// and the stores that persist the chain.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Severity is the ordered event severity.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityNotice   Severity = "NOTICE"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityNotice:   1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s ranks at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// ActorType distinguishes who initiated an action.
type ActorType string

const (
	ActorUser    ActorType = "USER"
	ActorService ActorType = "SERVICE"
	ActorSystem  ActorType = "SYSTEM"
)

// Coarse event scopes used for filtering and reason-policy lookup.
const (
	ScopeAuth     = "AUTH"
	ScopeUser     = "USER"
	ScopeVendor   = "VENDOR"
	ScopeOrder    = "ORDER"
	ScopeRevenue  = "REVENUE"
	ScopeConfig   = "CONFIG"
	ScopePrivacy  = "PRIVACY"
	ScopeSecurity = "SECURITY"
)

// Action codes recorded by the marketplace admin surface. The verb-noun code
// is the primary policy key; handlers elsewhere pass these constants.
const (
	ActionImpersonationStarted  = "IMPERSONATION_STARTED"
	ActionImpersonationEnded    = "IMPERSONATION_ENDED"
	ActionUserRoleGranted       = "USER_ROLE_GRANTED"
	ActionUserRoleRevoked       = "USER_ROLE_REVOKED"
	ActionUserSuspended         = "USER_SUSPENDED"
	ActionUserReinstated        = "USER_REINSTATED"
	ActionUserSoftDeleted       = "USER_SOFT_DELETED"
	ActionUserAnonymized        = "USER_ANONYMIZED"
	ActionUserMerged            = "USER_MERGED"
	ActionUserMFAReset          = "USER_MFA_RESET"
	ActionUserForceLogout       = "USER_FORCE_LOGOUT"
	ActionFeeScheduleActivated  = "FEE_SCHEDULE_ACTIVATED"
	ActionPayoutAdjusted        = "PAYOUT_ADJUSTED"
	ActionRefundPolicyChanged   = "REFUND_POLICY_CHANGED"
	ActionSecretRotated         = "SECRET_ROTATED"
	ActionSigningKeyRotated     = "SIGNING_KEY_ROTATED"
	ActionPrivacySARApproved    = "PRIVACY_SAR_APPROVED"
	ActionPrivacySARDenied      = "PRIVACY_SAR_DENIED"
	ActionConfigSettingUpdated  = "CONFIG_SETTING_UPDATED"
	ActionMaintenanceModeSet    = "CONFIG_MAINTENANCE_MODE_CHANGED"
	ActionFeatureFlagUpdated    = "CONFIG_FEATURE_FLAG_UPDATED"
)

// AuditEvent is one immutable row of the chained audit log. Once written it
// is never updated or deleted through this subsystem.
type AuditEvent struct {
	ID             string      `json:"id"`
	Seq            int64       `json:"seq,omitempty"`
	OccurredAt     time.Time   `json:"occurredAt"`
	Actor          string      `json:"actor,omitempty"`
	ActorType      ActorType   `json:"actorType,omitempty"`
	ActorIP        string      `json:"actorIp,omitempty"`
	ActorUserAgent string      `json:"actorUserAgent,omitempty"`
	RequestID      string      `json:"requestId,omitempty"`
	TraceID        string      `json:"traceId,omitempty"`
	Scope          string      `json:"scope"`
	Action         string      `json:"action"`
	TargetType     string      `json:"targetType,omitempty"`
	TargetID       string      `json:"targetId,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Severity       Severity    `json:"severity"`
	DiffBefore     interface{} `json:"diffBefore,omitempty"`
	DiffAfter      interface{} `json:"diffAfter,omitempty"`
	Metadata       interface{} `json:"metadata,omitempty"`
	TenantID       string      `json:"tenantId,omitempty"`
	PrevHash       string      `json:"prevHash,omitempty"`
	SelfHash       string      `json:"selfHash"`
}

// ChainScopeGlobal is the chain scope for events without a tenant.
const ChainScopeGlobal = "global"

// ChainScope returns the partition within which this event is hash-linked.
func (e *AuditEvent) ChainScope() string {
	if e.TenantID == "" {
		return ChainScopeGlobal
	}
	return "tenant:" + e.TenantID
}

// ErrNotFound is returned when a requested audit event cannot be located.
var ErrNotFound = errors.New("not found")

// NewID returns a freshly-generated event id.
func NewID() string {
	return uuid.New().String()
}
