// Package service is the read side of the audit log: filtered listing,
// single-event lookup with related events, bulk export, and chain
// verification. Unlike the write path, failures here are always surfaced —
// a silent "verification passed" on a failed check would defeat the whole
// subsystem.
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harvestmarket/audittrail/internal/audit"
	"github.com/harvestmarket/audittrail/internal/metrics"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	// DefaultExportMaxRows bounds export memory.
	DefaultExportMaxRows = 10000

	// DefaultRelatedMax caps how many same-request events a detail lookup
	// returns.
	DefaultRelatedMax = 100
)

// Service answers operator/compliance queries over the stored chain.
type Service struct {
	store         audit.Store
	metrics       *metrics.Metrics
	exportMaxRows int
	relatedMax    int
}

// New constructs the query service. metrics may be nil; zero limits get
// defaults.
func New(store audit.Store, m *metrics.Metrics, exportMaxRows, relatedMax int) *Service {
	if exportMaxRows <= 0 {
		exportMaxRows = DefaultExportMaxRows
	}
	if relatedMax <= 0 {
		relatedMax = DefaultRelatedMax
	}
	return &Service{store: store, metrics: m, exportMaxRows: exportMaxRows, relatedMax: relatedMax}
}

// ListResult is one page of events, newest-first.
type ListResult struct {
	Events []*audit.AuditEvent `json:"events"`
	Page   int                 `json:"page"`
	Limit  int                 `json:"limit"`
	Total  int                 `json:"total"`
}

// List returns filtered events for human review, newest-first.
func (s *Service) List(ctx context.Context, f audit.ListFilter) (*ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	events, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return &ListResult{Events: events, Page: f.Page, Limit: f.Limit, Total: total}, nil
}

// EventDetail is a single event plus every other event recorded within the
// same logical operation (same requestId), oldest-first.
type EventDetail struct {
	Event   *audit.AuditEvent   `json:"event"`
	Related []*audit.AuditEvent `json:"related"`
}

// Get fetches one event and reconstructs what else happened in its request.
func (s *Service) Get(ctx context.Context, id string) (*EventDetail, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	related := []*audit.AuditEvent{}
	if ev.RequestID != "" {
		all, err := s.store.ListByRequest(ctx, ev.RequestID, s.relatedMax)
		if err != nil {
			return nil, fmt.Errorf("list related events: %w", err)
		}
		for _, rel := range all {
			if rel.ID != ev.ID {
				related = append(related, rel)
			}
		}
	}
	return &EventDetail{Event: ev, Related: related}, nil
}

// Export formats. CSV uses a fixed header order; JSONL is one JSON object
// per line. Both are tool-consumable, not byte-contractual.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// Export writes filtered events to w, unpaginated up to the hard row cap.
func (s *Service) Export(ctx context.Context, f audit.ListFilter, format string, w io.Writer) error {
	f.Page = 1
	f.Limit = s.exportMaxRows
	events, _, err := s.store.List(ctx, f)
	if err != nil {
		return fmt.Errorf("export query: %w", err)
	}
	switch format {
	case FormatCSV:
		return writeCSV(w, events)
	case FormatJSONL:
		return writeJSONL(w, events)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Verify loads one chain scope in ascending order and replays it. Breaks are
// reported, never repaired: history past the first break cannot be trusted
// until an operator investigates.
func (s *Service) Verify(ctx context.Context, tenantID string, from, to *time.Time) (audit.VerifyReport, error) {
	scope := audit.ChainScopeGlobal
	if tenantID != "" {
		scope = (&audit.AuditEvent{TenantID: tenantID}).ChainScope()
	}
	events, err := s.store.Scan(ctx, scope, from, to)
	if err != nil {
		return audit.VerifyReport{}, fmt.Errorf("scan chain: %w", err)
	}
	report := audit.VerifyChain(events)
	s.metrics.IncVerifyRun()
	if !report.Valid {
		s.metrics.IncVerifyBreak()
	}
	return report, nil
}
