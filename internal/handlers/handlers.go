// Package handlers wires the auditd HTTP surface: the record endpoint used
// by sensitive-action handlers, and the administrative read API (list, get,
// export, verify) used by operators and compliance tooling.
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harvestmarket/audittrail/internal/audit"
	"github.com/harvestmarket/audittrail/internal/auth"
	"github.com/harvestmarket/audittrail/internal/service"
)

// AppContext holds the shared dependencies handlers need.
type AppContext struct {
	DB       *sql.DB // nil when running on the in-memory store
	Store    audit.Store
	Recorder *audit.Recorder
	Service  *service.Service
}

// RegisterPublicRoutes mounts the unauthenticated probe endpoints.
func RegisterPublicRoutes(app *AppContext, r chi.Router) {
	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(app.DB, app.Store))
}

// RegisterRoutes mounts the audit routes on r. Role policy: Support may
// list/read, Admin and SuperAdmin may also record and export, Auditor may
// read, export and verify.
func RegisterRoutes(app *AppContext, r chi.Router) {
	read := []string{auth.RoleSupport, auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleAuditor}
	export := []string{auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleAuditor}

	r.Route("/admin/audit", func(r chi.Router) {
		r.With(auth.RequireAnyRole(auth.RoleAdmin, auth.RoleSuperAdmin)).
			Post("/events", handleRecord(app.Recorder))
		r.With(auth.RequireAnyRole(read...)).
			Get("/events", handleList(app.Service))
		r.With(auth.RequireAnyRole(read...)).
			Get("/events/{id}", handleGet(app.Service))
		r.With(auth.RequireAnyRole(export...)).
			Post("/export", handleExport(app.Service))
		r.With(auth.RequireAnyRole(auth.RoleSuperAdmin, auth.RoleAuditor)).
			Post("/verify", handleVerify(app.Service))
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "ts": time.Now().UTC()})
}

func handleReady(db *sql.DB, store audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store not ready"})
			return
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "db not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
