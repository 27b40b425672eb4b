package audit

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/harvestmarket/audittrail/internal/metrics"
	"github.com/harvestmarket/audittrail/internal/redact"
)

// Entry is the caller-facing record contract. Sensitive-action handlers fill
// in what they know; everything except Scope and Action is optional.
// occurredAt is deliberately absent: the logger stamps it server-side so a
// caller cannot backdate an event.
type Entry struct {
	Scope          string
	Action         string
	Actor          string
	ActorType      ActorType
	ActorIP        string
	ActorUserAgent string
	RequestID      string
	TraceID        string
	TargetType     string
	TargetID       string
	Reason         string
	Severity       Severity
	DiffBefore     interface{}
	DiffAfter      interface{}
	Metadata       interface{}
	TenantID       string
}

// Recorder is the single entry point for writing audit events. Record is
// fire-and-forget: the triggering business operation has already completed,
// so no failure here may bubble back into the caller's control flow.
type Recorder struct {
	store   Store
	metrics *metrics.Metrics
}

// NewRecorder wires a Recorder to its store. metrics may be nil.
func NewRecorder(store Store, m *metrics.Metrics) *Recorder {
	return &Recorder{store: store, metrics: m}
}

// Record redacts, applies the reason policy, links and persists one event.
// Internal failures are logged to the operational channel and swallowed; a
// missing audit row is an incident to investigate, not a reason to fail a
// user-facing request.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if err := r.record(ctx, e); err != nil {
		log.Printf("[audit] event %s/%s dropped: %v", e.Scope, e.Action, err)
		r.metrics.IncDropped()
	}
}

func (r *Recorder) record(ctx context.Context, e Entry) error {
	if e.Scope == "" || e.Action == "" {
		return fmt.Errorf("scope and action are required")
	}

	severity := e.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	if !severity.Valid() {
		return fmt.Errorf("unknown severity %q", severity)
	}

	metadata := e.Metadata
	if ReasonRequired(e.Action) && strings.TrimSpace(e.Reason) == "" {
		// Policy violation: still recorded, but elevated and flagged so
		// compliance review can find it.
		if !severity.AtLeast(SeverityWarning) {
			severity = SeverityWarning
		}
		metadata = annotateMissingReason(metadata)
		r.metrics.IncPolicyViolation()
		log.Printf("[audit] action %s recorded without required reason (actor=%s)", e.Action, e.Actor)
	}

	ev := &AuditEvent{
		ID:             NewID(),
		Actor:          e.Actor,
		ActorType:      e.ActorType,
		ActorIP:        e.ActorIP,
		ActorUserAgent: e.ActorUserAgent,
		RequestID:      e.RequestID,
		TraceID:        e.TraceID,
		Scope:          e.Scope,
		Action:         e.Action,
		TargetType:     e.TargetType,
		TargetID:       e.TargetID,
		Reason:         e.Reason,
		Severity:       severity,
		DiffBefore:     redact.Redact(e.DiffBefore),
		DiffAfter:      redact.Redact(e.DiffAfter),
		Metadata:       redact.Redact(metadata),
		TenantID:       e.TenantID,
	}

	// The store stamps occurredAt under its per-scope serialization point and
	// performs chain linking; see Store.Append.
	if err := r.store.Append(ctx, ev); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	r.metrics.IncRecorded()
	return nil
}

// annotateMissingReason sets the missingReason flag without mutating the
// caller's metadata value.
func annotateMissingReason(metadata interface{}) interface{} {
	out := map[string]interface{}{MetadataMissingReasonKey: true}
	if m, ok := metadata.(map[string]interface{}); ok {
		for k, v := range m {
			if k == MetadataMissingReasonKey {
				continue
			}
			out[k] = v
		}
		return out
	}
	if metadata != nil {
		out["value"] = metadata
	}
	return out
}
