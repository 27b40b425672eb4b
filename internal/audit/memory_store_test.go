package audit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreAppendGet(t *testing.T) {
	store := NewMemoryStore()
	ev := &AuditEvent{
		Scope:    ScopeSecurity,
		Action:   ActionSecretRotated,
		Severity: SeverityCritical,
		Reason:   "scheduled rotation",
	}
	if err := store.Append(context.Background(), ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.ID == "" {
		t.Fatalf("append must assign an id")
	}
	if ev.OccurredAt.IsZero() {
		t.Fatalf("append must stamp occurredAt")
	}
	if ev.SelfHash == "" {
		t.Fatalf("append must compute selfHash")
	}

	got, err := store.Get(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Action != ev.Action || got.SelfHash != ev.SelfHash {
		t.Fatalf("stored event mismatch: %+v", got)
	}

	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ev := &AuditEvent{Scope: ScopeUser, Action: ActionUserReinstated, Severity: SeverityInfo}
	if err := store.Append(context.Background(), ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _ := store.Get(context.Background(), ev.ID)
	got.Reason = "mutated by caller"
	again, _ := store.Get(context.Background(), ev.ID)
	if again.Reason != "" {
		t.Fatalf("stored event mutated through returned copy")
	}
}

func TestMemoryStoreListFilterAndPaginate(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actions := []string{
		ActionUserSuspended, ActionUserSuspended, ActionUserReinstated,
		ActionUserSuspended, ActionPayoutAdjusted,
	}
	for i, action := range actions {
		ev := &AuditEvent{
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Scope:      ScopeUser,
			Action:     action,
			Actor:      "admin-1",
			Severity:   SeverityWarning,
		}
		if err := store.Append(context.Background(), ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, total, err := store.List(context.Background(), ListFilter{Action: ActionUserSuspended})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(events) != 3 {
		t.Fatalf("want 3 suspensions, got total=%d len=%d", total, len(events))
	}
	// Newest first.
	if !events[0].OccurredAt.After(events[1].OccurredAt) {
		t.Fatalf("list not newest-first: %v then %v", events[0].OccurredAt, events[1].OccurredAt)
	}

	page2, total, err := store.List(context.Background(), ListFilter{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if total != 5 || len(page2) != 2 {
		t.Fatalf("page 2: want total=5 len=2, got total=%d len=%d", total, len(page2))
	}

	beyond, total, err := store.List(context.Background(), ListFilter{Page: 9, Limit: 2})
	if err != nil {
		t.Fatalf("list beyond: %v", err)
	}
	if total != 5 || len(beyond) != 0 {
		t.Fatalf("page beyond range: want empty, got %d", len(beyond))
	}
}

func TestMemoryStoreListTimeWindow(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ev := &AuditEvent{
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
			Scope:      ScopeOrder,
			Action:     ActionRefundPolicyChanged,
			Severity:   SeverityNotice,
		}
		if err := store.Append(context.Background(), ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	from := base.Add(1 * time.Hour)
	to := base.Add(2 * time.Hour)
	events, total, err := store.List(context.Background(), ListFilter{From: &from, To: &to})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Fatalf("window [1h,2h]: want 2, got %d", total)
	}
}

func TestMemoryStoreListByRequest(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := &AuditEvent{
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			Scope:      ScopeUser,
			Action:     ActionUserMerged,
			Severity:   SeverityWarning,
			RequestID:  "req-1",
		}
		if err := store.Append(context.Background(), ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Append(context.Background(), &AuditEvent{
		Scope: ScopeUser, Action: ActionUserMerged, Severity: SeverityWarning, RequestID: "req-other",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.ListByRequest(context.Background(), "req-1", 10)
	if err != nil {
		t.Fatalf("listByRequest: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("want 3 events for req-1, got %d", len(events))
	}
	// Oldest first.
	if !events[0].OccurredAt.Before(events[2].OccurredAt) {
		t.Fatalf("listByRequest not oldest-first")
	}

	capped, err := store.ListByRequest(context.Background(), "req-1", 2)
	if err != nil {
		t.Fatalf("listByRequest capped: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("limit not applied: got %d", len(capped))
	}
}
