package audit

import "time"

// Envelope builds the canonical map streamed to Kafka and archived to S3 for
// one event. It is a superset of the hashed field map: it also carries the
// id, chain scope and selfHash so downstream consumers can re-verify rows
// independently of the database.
func Envelope(ev *AuditEvent) map[string]interface{} {
	m := canonicalFields(ev)
	m["id"] = ev.ID
	m["chainScope"] = ev.ChainScope()
	m["selfHash"] = ev.SelfHash
	putString(m, "tenantId", ev.TenantID)
	putString(m, "actorIp", ev.ActorIP)
	putString(m, "actorUserAgent", ev.ActorUserAgent)
	putString(m, "traceId", ev.TraceID)
	if ev.Seq > 0 {
		m["seq"] = ev.Seq
	}
	if !ev.OccurredAt.IsZero() {
		m["occurredAt"] = ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}
