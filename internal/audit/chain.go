package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/harvestmarket/audittrail/internal/canonical"
)

// canonicalFields builds the fixed-key map that is hashed for an event.
// Absent/empty fields are omitted entirely so field-presence quirks cannot
// change the digest of logically equal events. prevHash is part of the input,
// which is what links each event to its predecessor.
func canonicalFields(ev *AuditEvent) map[string]interface{} {
	m := map[string]interface{}{
		"occurredAt": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		"scope":      ev.Scope,
		"action":     ev.Action,
		"severity":   string(ev.Severity),
	}
	putString(m, "actor", ev.Actor)
	putString(m, "actorType", string(ev.ActorType))
	putString(m, "requestId", ev.RequestID)
	putString(m, "targetType", ev.TargetType)
	putString(m, "targetId", ev.TargetID)
	putString(m, "reason", ev.Reason)
	putString(m, "prevHash", ev.PrevHash)
	if ev.DiffBefore != nil {
		m["diffBefore"] = ev.DiffBefore
	}
	if ev.DiffAfter != nil {
		m["diffAfter"] = ev.DiffAfter
	}
	if ev.Metadata != nil {
		m["metadata"] = ev.Metadata
	}
	return m
}

func putString(m map[string]interface{}, k, v string) {
	if v != "" {
		m[k] = v
	}
}

// ChainDigest recomputes the event's digest from its own fields plus
// prevHash: hex(sha256(canonical field map)).
func ChainDigest(ev *AuditEvent) (string, error) {
	b, err := canonical.Marshal(canonicalFields(ev))
	if err != nil {
		return "", fmt.Errorf("canonicalize event %s: %w", ev.ID, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyReport is the outcome of a chain verification walk.
type VerifyReport struct {
	Valid        bool   `json:"valid"`
	CheckedCount int    `json:"checkedCount"`
	FirstBreakID string `json:"firstBreakId,omitempty"`
}

// VerifyChain walks events in insertion order within one chain scope and
// verifies linkage and digest correctness. It stops at the
// first failure and reports the offending event; a broken chain is surfaced,
// never repaired. The first event's prevHash is not checked against anything
// so a mid-chain range can be verified on its own.
func VerifyChain(events []*AuditEvent) VerifyReport {
	for i, ev := range events {
		if i > 0 && ev.PrevHash != events[i-1].SelfHash {
			return VerifyReport{Valid: false, CheckedCount: i, FirstBreakID: ev.ID}
		}
		digest, err := ChainDigest(ev)
		if err != nil || digest != ev.SelfHash {
			return VerifyReport{Valid: false, CheckedCount: i, FirstBreakID: ev.ID}
		}
	}
	return VerifyReport{Valid: true, CheckedCount: len(events)}
}
