package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the chain in process memory. It backs dev runs without a
// DATABASE_URL and the unit tests. A single mutex serializes appends, which
// trivially satisfies the per-scope ordering guarantee.
type MemoryStore struct {
	mu     sync.Mutex
	events []*AuditEvent
	byID   map[string]*AuditEvent
	heads  map[string]string // chain scope -> selfHash of latest event
	seq    int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*AuditEvent),
		heads: make(map[string]string),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Append links ev to the head of its chain scope and stores it.
func (s *MemoryStore) Append(ctx context.Context, ev *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = NewID()
	}
	// Microsecond precision, matching what the Postgres store can persist,
	// so digests computed here verify after either storage round trip.
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC().Truncate(time.Microsecond)
	} else {
		ev.OccurredAt = ev.OccurredAt.UTC().Truncate(time.Microsecond)
	}
	scope := ev.ChainScope()
	ev.PrevHash = s.heads[scope]

	digest, err := ChainDigest(ev)
	if err != nil {
		return err
	}
	ev.SelfHash = digest
	s.seq++
	ev.Seq = s.seq

	stored := *ev
	s.events = append(s.events, &stored)
	s.byID[stored.ID] = &stored
	s.heads[scope] = stored.SelfHash
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]*AuditEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*AuditEvent, 0)
	for _, ev := range s.events {
		if matches(ev, f) {
			cp := *ev
			matched = append(matched, &cp)
		}
	}
	// newest first
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].Seq > matched[j].Seq
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	total := len(matched)
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		return matched, total, nil
	}
	start := (page - 1) * limit
	if start >= total {
		return []*AuditEvent{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) ListByRequest(ctx context.Context, requestID string, limit int) ([]*AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*AuditEvent, 0)
	for _, ev := range s.events {
		if ev.RequestID == requestID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sortAscending(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Scan(ctx context.Context, chainScope string, from, to *time.Time) ([]*AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*AuditEvent, 0)
	for _, ev := range s.events {
		if ev.ChainScope() != chainScope {
			continue
		}
		if from != nil && ev.OccurredAt.Before(*from) {
			continue
		}
		if to != nil && ev.OccurredAt.After(*to) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	// Insertion order, same contract as the Postgres scan: linkage order is
	// what gets verified, not timestamp order.
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func sortAscending(events []*AuditEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}

func matches(ev *AuditEvent, f ListFilter) bool {
	if f.From != nil && ev.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.OccurredAt.After(*f.To) {
		return false
	}
	if f.Scope != "" && ev.Scope != f.Scope {
		return false
	}
	if f.Action != "" && ev.Action != f.Action {
		return false
	}
	if f.ActorID != "" && ev.Actor != f.ActorID {
		return false
	}
	if f.TargetType != "" && ev.TargetType != f.TargetType {
		return false
	}
	if f.TargetID != "" && ev.TargetID != f.TargetID {
		return false
	}
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if f.RequestID != "" && ev.RequestID != f.RequestID {
		return false
	}
	if f.TraceID != "" && ev.TraceID != f.TraceID {
		return false
	}
	if f.TenantID != "" && ev.TenantID != f.TenantID {
		return false
	}
	return true
}
