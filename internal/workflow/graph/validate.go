// Package graph implements the workflow state and graph model of §4.6: a
// DAG-with-back-edges of typed nodes, represented as a vector of nodes owned
// by the Workflow with edges stored as non-owning node indices (§9 design
// note on avoiding owning cycles), plus the validated key/value state map
// each node execution reads and writes.
package graph

import (
	"fmt"
	"strings"
)

const (
	maxNameLen          = 256
	maxStateKeyLen      = 128
	maxStateValueBytes  = 10 * 1024
	maxConditionExprLen = 1024
)

// blockedConditionSubstrings is the exact §4.6 rejection list for
// condition_expr.
var blockedConditionSubstrings = []string{
	"exec(", "eval(", "system(", "popen(", "fork(", "execve(",
	"import ", "require ", "include ", "#include",
	"<script", "javascript:", "onerror=", "onload=",
}

func isNameChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '-', r == '_', r == '.':
		return true
	}
	return false
}

// ValidateName validates a node name: 1..256 chars, alphanumeric plus space,
// -, _, . (§4.6).
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return fmt.Errorf("graph: name length must be 1..%d, got %d", maxNameLen, len(name))
	}
	for _, r := range name {
		if !isNameChar(r) {
			return fmt.Errorf("graph: name contains invalid character %q", r)
		}
	}
	return nil
}

func isStateKeyChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '.', r == '-':
		return true
	}
	return false
}

// ValidateStateKey validates a state key: 1..128 chars, alphanumeric plus
// _, ., - (§4.6).
func ValidateStateKey(key string) error {
	if len(key) == 0 || len(key) > maxStateKeyLen {
		return fmt.Errorf("graph: state key length must be 1..%d, got %d", maxStateKeyLen, len(key))
	}
	for _, r := range key {
		if !isStateKeyChar(r) {
			return fmt.Errorf("graph: state key contains invalid character %q", r)
		}
	}
	return nil
}

// ValidateStateValue validates a state value's size only; sanitization
// (stripping control chars, escaping quotes) happens separately in Sanitize
// and never rejects.
func ValidateStateValue(value string) error {
	if len(value) > maxStateValueBytes {
		return fmt.Errorf("graph: state value exceeds %d bytes", maxStateValueBytes)
	}
	return nil
}

// ValidateConditionExpr validates a condition_expr: <=1 KiB, and rejected if
// it contains any of the exact blocked substrings of §4.6.
func ValidateConditionExpr(expr string) error {
	if len(expr) > maxConditionExprLen {
		return fmt.Errorf("graph: condition_expr exceeds %d bytes", maxConditionExprLen)
	}
	lower := strings.ToLower(expr)
	for _, bad := range blockedConditionSubstrings {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("graph: condition_expr contains forbidden substring %q", bad)
		}
	}
	return nil
}

// Sanitize strips control characters (except \n, \r, \t) from value and
// escapes backslash, double quote, and single quote, per §4.6's state-value
// rule. It never rejects input; ValidateStateValue is the rejection gate.
func Sanitize(value string) string {
	var stripped strings.Builder
	stripped.Grow(len(value))
	for _, r := range value {
		if r == '\n' || r == '\r' || r == '\t' {
			stripped.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		stripped.WriteRune(r)
	}
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`)
	return replacer.Replace(stripped.String())
}
