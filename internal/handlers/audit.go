package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harvestmarket/audittrail/internal/audit"
	"github.com/harvestmarket/audittrail/internal/auth"
	"github.com/harvestmarket/audittrail/internal/service"
)

// recordRequest is the wire form of the caller-facing record contract.
// occurredAt is intentionally not accepted; the logger stamps it.
type recordRequest struct {
	Scope      string      `json:"scope"`
	Action     string      `json:"action"`
	Actor      string      `json:"actor,omitempty"`
	ActorType  string      `json:"actorType,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`
	TraceID    string      `json:"traceId,omitempty"`
	TargetType string      `json:"targetType,omitempty"`
	TargetID   string      `json:"targetId,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Severity   string      `json:"severity,omitempty"`
	DiffBefore interface{} `json:"diffBefore,omitempty"`
	DiffAfter  interface{} `json:"diffAfter,omitempty"`
	Metadata   interface{} `json:"metadata,omitempty"`
	TenantID   string      `json:"tenantId,omitempty"`
}

// POST /admin/audit/events
// Fire-and-forget: the response acknowledges acceptance, not durability.
func handleRecord(rec *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recordRequest
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Scope == "" || req.Action == "" {
			http.Error(w, "scope and action required", http.StatusBadRequest)
			return
		}

		entry := audit.Entry{
			Scope:          req.Scope,
			Action:         req.Action,
			Actor:          req.Actor,
			ActorType:      audit.ActorType(req.ActorType),
			ActorIP:        clientIP(r),
			ActorUserAgent: r.UserAgent(),
			RequestID:      req.RequestID,
			TraceID:        req.TraceID,
			TargetType:     req.TargetType,
			TargetID:       req.TargetID,
			Reason:         req.Reason,
			Severity:       audit.Severity(req.Severity),
			DiffBefore:     req.DiffBefore,
			DiffAfter:      req.DiffAfter,
			Metadata:       req.Metadata,
			TenantID:       req.TenantID,
		}
		if entry.Actor == "" {
			if ai := auth.FromContext(r.Context()); ai != nil {
				entry.Actor = ai.Subject
				entry.ActorType = audit.ActorUser
			}
		}

		rec.Record(r.Context(), entry)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// GET /admin/audit/events
func handleList(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := svc.List(r.Context(), f)
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /admin/audit/events/{id}
func handleGet(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}
		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			if err == audit.ErrNotFound {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

// exportRequest selects the format plus the same filters as listing.
type exportRequest struct {
	Format     string `json:"format"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Action     string `json:"action,omitempty"`
	ActorID    string `json:"actorId,omitempty"`
	TargetType string `json:"targetType,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
	Severity   string `json:"severity,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
	TenantID   string `json:"tenantId,omitempty"`
}

// POST /admin/audit/export
func handleExport(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		// An empty body falls through to the format check below.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Format != service.FormatCSV && req.Format != service.FormatJSONL {
			http.Error(w, "format must be csv or jsonl", http.StatusBadRequest)
			return
		}

		f := audit.ListFilter{
			Scope:      req.Scope,
			Action:     req.Action,
			ActorID:    req.ActorID,
			TargetType: req.TargetType,
			TargetID:   req.TargetID,
			Severity:   audit.Severity(req.Severity),
			RequestID:  req.RequestID,
			TraceID:    req.TraceID,
			TenantID:   req.TenantID,
		}
		var err error
		if f.From, err = parseTime(req.From); err != nil {
			http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)
			return
		}
		if f.To, err = parseTime(req.To); err != nil {
			http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)
			return
		}

		filename := "audit-export-" + time.Now().UTC().Format("20060102-150405")
		if req.Format == service.FormatCSV {
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.csv"`)
		} else {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.jsonl"`)
		}
		if err := svc.Export(r.Context(), f, req.Format, w); err != nil {
			// Headers may already be out; the truncated body plus the log
			// line is the best we can do here.
			internalError(w, r, err)
			return
		}
	}
}

// verifyRequest selects an optional time range and tenant scope.
type verifyRequest struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

// POST /admin/audit/verify
func handleVerify(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		// Every field is optional; an empty body verifies the global scope.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		from, err := parseTime(req.From)
		if err != nil {
			http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)
			return
		}
		to, err := parseTime(req.To)
		if err != nil {
			http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)
			return
		}
		report, err := svc.Verify(r.Context(), req.TenantID, from, to)
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// --- helpers ---

func parseFilter(r *http.Request) (audit.ListFilter, error) {
	q := r.URL.Query()
	f := audit.ListFilter{
		Scope:      q.Get("scope"),
		Action:     q.Get("action"),
		ActorID:    q.Get("actorId"),
		TargetType: q.Get("targetType"),
		TargetID:   q.Get("targetId"),
		RequestID:  q.Get("requestId"),
		TraceID:    q.Get("traceId"),
		TenantID:   q.Get("tenantId"),
	}
	if sev := q.Get("severity"); sev != "" {
		s := audit.Severity(sev)
		if !s.Valid() {
			return f, fmt.Errorf("unknown severity %q", sev)
		}
		f.Severity = s
	}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, fmt.Errorf("invalid from: %w", err)
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, fmt.Errorf("invalid to: %w", err)
	}
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil || f.Page < 1 {
			return f, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 1 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
	}
	return f, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// internalError hides read-path details from the client; the cause goes to
// the operational log only.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("[audit] %s %s failed: %v", r.Method, r.URL.Path, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
