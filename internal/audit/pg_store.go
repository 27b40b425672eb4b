package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PGStore persists the audit chain in Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const auditColumns = `id, seq, occurred_at, actor, actor_type, actor_ip, actor_user_agent,
	request_id, trace_id, scope, action, target_type, target_id, reason, severity,
	diff_before, diff_after, metadata, tenant_id, prev_hash, self_hash`

// Append links ev to the current head of its chain scope and inserts the row.
// The read-latest-then-insert sequence runs inside one transaction holding a
// per-scope advisory lock, so concurrent appends to the same scope are
// serialized and no two rows can ever share a prevHash. A unique index on
// (chain_scope, prev_hash) backstops the invariant.
func (p *PGStore) Append(ctx context.Context, ev *AuditEvent) error {
	scope := ev.ChainScope()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope); err != nil {
		return fmt.Errorf("acquire scope lock: %w", err)
	}

	var prev sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT self_hash FROM audit_events WHERE chain_scope = $1 ORDER BY seq DESC LIMIT 1`,
		scope,
	).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("fetch chain head: %w", err)
	}

	if ev.ID == "" {
		ev.ID = NewID()
	}
	// Stamp under the lock, truncated to microseconds: timestamptz stores
	// microsecond precision, and the digest must survive the storage round
	// trip exactly.
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC().Truncate(time.Microsecond)
	} else {
		ev.OccurredAt = ev.OccurredAt.UTC().Truncate(time.Microsecond)
	}
	ev.PrevHash = ""
	if prev.Valid {
		ev.PrevHash = prev.String
	}
	digest, err := ChainDigest(ev)
	if err != nil {
		return err
	}
	ev.SelfHash = digest

	diffBefore, err := marshalPayload(ev.DiffBefore)
	if err != nil {
		return fmt.Errorf("marshal diffBefore: %w", err)
	}
	diffAfter, err := marshalPayload(ev.DiffAfter)
	if err != nil {
		return fmt.Errorf("marshal diffAfter: %w", err)
	}
	metadata, err := marshalPayload(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO audit_events
		  (id, occurred_at, actor, actor_type, actor_ip, actor_user_agent,
		   request_id, trace_id, scope, action, target_type, target_id, reason, severity,
		   diff_before, diff_after, metadata, tenant_id, chain_scope, prev_hash, self_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING seq
	`,
		ev.ID, ev.OccurredAt, ev.Actor, string(ev.ActorType), ev.ActorIP, ev.ActorUserAgent,
		ev.RequestID, ev.TraceID, ev.Scope, ev.Action, ev.TargetType, ev.TargetID, ev.Reason, string(ev.Severity),
		diffBefore, diffAfter, metadata, ev.TenantID, scope, ev.PrevHash, ev.SelfHash,
	).Scan(&ev.Seq)
	if err != nil {
		return fmt.Errorf("insert audit_event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

// Get fetches a single event by id.
func (p *PGStore) Get(ctx context.Context, id string) (*AuditEvent, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query audit_event: %w", err)
	}
	return ev, nil
}

// List returns filtered events newest-first plus the total match count.
func (p *PGStore) List(ctx context.Context, f ListFilter) ([]*AuditEvent, int, error) {
	where, args := buildFilter(f)

	var total int
	countQ := `SELECT COUNT(*) FROM audit_events` + where
	if err := p.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit_events: %w", err)
	}

	q := `SELECT ` + auditColumns + ` FROM audit_events` + where +
		` ORDER BY occurred_at DESC, seq DESC`
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, (page-1)*f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit_events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListByRequest returns events sharing a requestId, oldest-first.
func (p *PGStore) ListByRequest(ctx context.Context, requestID string, limit int) ([]*AuditEvent, error) {
	q := `SELECT ` + auditColumns + ` FROM audit_events WHERE request_id = $1
		ORDER BY occurred_at ASC, seq ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := p.db.QueryContext(ctx, q, requestID)
	if err != nil {
		return nil, fmt.Errorf("query related events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Scan returns one chain scope in insertion (seq) order for verification.
// seq, not occurred_at, is the walk order: clock skew between writers can
// stamp a later link with an earlier timestamp, but seq always matches the
// order links were forged under the advisory lock.
func (p *PGStore) Scan(ctx context.Context, chainScope string, from, to *time.Time) ([]*AuditEvent, error) {
	clauses := []string{"chain_scope = $1"}
	args := []interface{}{chainScope}
	if from != nil {
		args = append(args, *from)
		clauses = append(clauses, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		clauses = append(clauses, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}
	q := `SELECT ` + auditColumns + ` FROM audit_events WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY seq ASC`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan chain scope: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// FetchPendingForStream claims up to batch events whose offload to
// Kafka/S3 has not completed. Claimed rows move to in_progress with an
// incremented attempt counter; SKIP LOCKED keeps concurrent streamers from
// claiming the same rows.
func (p *PGStore) FetchPendingForStream(ctx context.Context, batch int) ([]*AuditEvent, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_events
		WHERE stream_status IN ('pending', 'failed') AND stream_attempts < 10
		ORDER BY seq ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batch)
	if err != nil {
		return nil, fmt.Errorf("select pending events: %w", err)
	}
	events, err := collectEvents(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE audit_events
		SET stream_status = 'in_progress', stream_attempts = stream_attempts + 1
		WHERE id = ANY($1)
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return events, nil
}

// MarkStreamResult records the offload outcome for one event. The DB row is
// the source of truth for retries.
func (p *PGStore) MarkStreamResult(ctx context.Context, id string, s3Key sql.NullString, ok bool, errMsg sql.NullString) error {
	if ok {
		_, err := p.db.ExecContext(ctx, `
			UPDATE audit_events
			SET stream_status = 'complete',
			    kafka_produced_at = now(),
			    s3_archived_at = now(),
			    s3_object_key = $2,
			    stream_last_error = NULL
			WHERE id = $1
		`, id, s3Key)
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE audit_events
		SET stream_status = 'failed', stream_last_error = $2
		WHERE id = $1
	`, id, errMsg)
	return err
}

// --- helpers ---

func buildFilter(f ListFilter) (string, []interface{}) {
	clauses := []string{}
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.From != nil {
		add("occurred_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("occurred_at <= $%d", *f.To)
	}
	if f.Scope != "" {
		add("scope = $%d", f.Scope)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ActorID != "" {
		add("actor = $%d", f.ActorID)
	}
	if f.TargetType != "" {
		add("target_type = $%d", f.TargetType)
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.RequestID != "" {
		add("request_id = $%d", f.RequestID)
	}
	if f.TraceID != "" {
		add("trace_id = $%d", f.TraceID)
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func marshalPayload(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scannable) (*AuditEvent, error) {
	var (
		ev                                     AuditEvent
		actor, actorType, actorIP, ua          sql.NullString
		requestID, traceID, targetType         sql.NullString
		targetID, reason, tenantID, prevHash   sql.NullString
		diffBefore, diffAfter, metadata        []byte
	)
	err := row.Scan(
		&ev.ID, &ev.Seq, &ev.OccurredAt, &actor, &actorType, &actorIP, &ua,
		&requestID, &traceID, &ev.Scope, &ev.Action, &targetType, &targetID, &reason, &ev.Severity,
		&diffBefore, &diffAfter, &metadata, &tenantID, &prevHash, &ev.SelfHash,
	)
	if err != nil {
		return nil, err
	}
	ev.Actor = actor.String
	ev.ActorType = ActorType(actorType.String)
	ev.ActorIP = actorIP.String
	ev.ActorUserAgent = ua.String
	ev.RequestID = requestID.String
	ev.TraceID = traceID.String
	ev.TargetType = targetType.String
	ev.TargetID = targetID.String
	ev.Reason = reason.String
	ev.TenantID = tenantID.String
	ev.PrevHash = prevHash.String
	ev.DiffBefore = unmarshalPayload(diffBefore)
	ev.DiffAfter = unmarshalPayload(diffAfter)
	ev.Metadata = unmarshalPayload(metadata)
	return &ev, nil
}

// unmarshalPayload decodes a json column with UseNumber. The column type
// preserves the stored text byte-exact and UseNumber keeps number text on
// decode, so re-hashing a read-back payload reproduces the original digest.
func unmarshalPayload(b []byte) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		// Keep the raw text rather than losing data.
		return string(b)
	}
	return v
}

func collectEvents(rows *sql.Rows) ([]*AuditEvent, error) {
	events := make([]*AuditEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit_event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit_events: %w", err)
	}
	return events, nil
}
