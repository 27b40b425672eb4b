// Package redact strips personally identifiable information from audit
// payloads before they are hashed and stored. Redaction is pure and must
// never fail: an audit write may not be blocked by a malformed payload, so
// unknown shapes degrade to pass-through.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Marker replaces values that must never be recoverable (passwords, secrets,
// tokens, keys). The value is discarded entirely, not hashed.
const Marker = "[REDACTED]"

// maxDepth bounds recursion so cyclic or absurdly nested inputs cannot wedge
// the write path. Anything deeper passes through unredacted rather than
// aborting the audit write.
const maxDepth = 64

// Redact returns a redacted copy of a JSON-shaped value. Maps and slices are
// walked recursively; scalar values pass through unless their containing key
// matches a sensitivity rule. The input is never mutated.
func Redact(v interface{}) interface{} {
	return redactValue(v, 0)
}

func redactValue(v interface{}, depth int) interface{} {
	if depth > maxDepth {
		return v
	}
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, elem := range vv {
			out[k] = redactField(k, elem, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, elem := range vv {
			out[i] = redactValue(elem, depth+1)
		}
		return out
	default:
		return v
	}
}

// redactField applies the key-name rules, first match wins.
func redactField(key string, v interface{}, depth int) interface{} {
	k := strings.ToLower(key)
	switch {
	case containsAny(k, "password", "secret", "token", "key"):
		return Marker
	case strings.Contains(k, "email"):
		if s, ok := v.(string); ok {
			return maskEmail(s)
		}
		return Marker
	case strings.Contains(k, "phone"):
		if s, ok := v.(string); ok {
			return maskPhone(s)
		}
		return Marker
	case containsAny(k, "ssn", "tax", "ein"):
		return hashRef(v)
	default:
		return redactValue(v, depth)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// maskEmail keeps the first and last character of the local part with a
// fixed-width mask between them and preserves the domain, so two redacted
// addresses on the same domain stay distinguishable without being reversible.
func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return Marker
	}
	local, domain := s[:at], s[at:]
	if len(local) == 1 {
		return "*" + domain
	}
	return local[:1] + "****" + local[len(local)-1:] + domain
}

// maskPhone replaces every digit except the last four with '*', keeping
// formatting characters in place.
func maskPhone(s string) string {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	keep := 4
	if digits < keep {
		keep = digits
	}
	seen := 0
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= digits-keep {
				out = append(out, '*')
				continue
			}
		}
		out = append(out, r)
	}
	return string(out)
}

// hashRef replaces a value with a short one-way reference so equality checks
// across records remain possible without exposing the value.
func hashRef(v interface{}) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", v)))
	return "HASH:" + hex.EncodeToString(sum[:8])
}
