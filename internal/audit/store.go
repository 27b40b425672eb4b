package audit

import (
	"context"
	"time"
)

// ListFilter narrows read-side queries. Zero values mean "no filter".
type ListFilter struct {
	From       *time.Time
	To         *time.Time
	Scope      string
	Action     string
	ActorID    string
	TargetType string
	TargetID   string
	Severity   Severity
	RequestID  string
	TraceID    string
	TenantID   string

	// Pagination for List. Export callers pass Limit only.
	Page  int
	Limit int
}

// Store is the persistence contract for the audit chain. Append must
// serialize the read-latest-then-insert sequence per chain scope so that no
// two stored events ever share a prevHash within one scope; everything else
// is plain reads. There is deliberately no update or delete.
type Store interface {
	// Append stamps occurredAt (if zero), links the event to the current
	// head of its chain scope, computes selfHash, and persists the row.
	Append(ctx context.Context, ev *AuditEvent) error

	// Get fetches a single event by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*AuditEvent, error)

	// List returns filtered events newest-first plus the total match count.
	List(ctx context.Context, f ListFilter) ([]*AuditEvent, int, error)

	// ListByRequest returns all events sharing a requestId, oldest-first,
	// capped at limit.
	ListByRequest(ctx context.Context, requestID string, limit int) ([]*AuditEvent, error)

	// Scan returns the events of one chain scope in insertion order,
	// optionally bounded by a time range. This is the verification read
	// path.
	Scan(ctx context.Context, chainScope string, from, to *time.Time) ([]*AuditEvent, error)

	// Ping validates the store is reachable.
	Ping(ctx context.Context) error
}
