package service

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/harvestmarket/audittrail/internal/audit"
)

// csvHeader is the fixed column order for CSV exports.
var csvHeader = []string{
	"id", "occurredAt", "tenantId", "scope", "action", "severity",
	"actor", "actorType", "actorIp", "actorUserAgent",
	"targetType", "targetId", "reason", "requestId", "traceId",
	"prevHash", "selfHash",
}

func writeCSV(w io.Writer, events []*audit.AuditEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, ev := range events {
		row := []string{
			ev.ID,
			ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			ev.TenantID,
			ev.Scope,
			ev.Action,
			string(ev.Severity),
			ev.Actor,
			string(ev.ActorType),
			ev.ActorIP,
			ev.ActorUserAgent,
			ev.TargetType,
			ev.TargetID,
			ev.Reason,
			ev.RequestID,
			ev.TraceID,
			ev.PrevHash,
			ev.SelfHash,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSONL(w io.Writer, events []*audit.AuditEvent) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("write jsonl row: %w", err)
		}
	}
	return nil
}
