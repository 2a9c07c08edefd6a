package telemetry

import (
	"context"
	"strings"
)

// AuditEvent is a single security-relevant occurrence: a validation failure
// or a human-approval decision (§4.10 "Security audit log emits at WARN for
// validation failures and human-approval decisions").
type AuditEvent struct {
	Category Category
	Action   string
	Subject  string
	Allowed  bool
	Reason   string
}

// Audit logs an AuditEvent at WARN through the given Logger, tagging it with
// CategorySecurity so audit lines can be filtered independently of ordinary
// operational logs.
func Audit(ctx context.Context, l Logger, ev AuditEvent) {
	if l == nil {
		return
	}
	l.Warn(ctx, "audit",
		"category", string(CategorySecurity),
		"action", ev.Action,
		"subject", ev.Subject,
		"allowed", ev.Allowed,
		"reason", ev.Reason,
	)
}

// controlChars lists bytes stripped by Sanitize, excluding the three
// whitespace control characters the workflow state validator (§4.6) allows
// to pass through unescaped: newline, carriage return, and tab.
const controlChars = "\x00\x01\x02\x03\x04\x05\x06\x07\x08\x0b\x0c\x0e\x0f" +
	"\x10\x11\x12\x13\x14\x15\x16\x17\x18\x19\x1a\x1b\x1c\x1d\x1e\x1f\x7f"

// Sanitize strips non-whitespace control characters and escapes backslash,
// double quote, and single quote. Shared by workflow state validation (§4.6)
// and decomposer string sanitization (§4.9).
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		switch r {
		case '\\', '"', '\'':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
