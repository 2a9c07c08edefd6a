package orchestrator

import "strings"

// maxDelegateNameLen bounds a delegation target's name (§6.2).
const maxDelegateNameLen = 256

const delegateMarker = "[DELEGATE:"

// Delegation is one parsed `[DELEGATE: <name>] <reason>` occurrence (§4.5.3,
// grammar §6.2).
type Delegation struct {
	Name   string
	Reason string
}

// ParseDelegations scans text for every delegation marker, preserving
// occurrence order. Markers with an empty or >256-char trimmed name are
// dropped, not just skipped in place: a dropped marker still ends the
// previous reason's span.
func ParseDelegations(text string) []Delegation {
	var out []Delegation
	pos := 0
	for {
		start := strings.Index(text[pos:], delegateMarker)
		if start == -1 {
			break
		}
		start += pos
		closeIdx := strings.IndexByte(text[start:], ']')
		if closeIdx == -1 {
			break
		}
		closeIdx += start

		rawName := text[start+len(delegateMarker) : closeIdx]
		name := strings.ToLower(strings.TrimSpace(rawName))

		reasonStart := closeIdx + 1
		end := len(text)
		if next := strings.Index(text[reasonStart:], delegateMarker); next != -1 {
			end = reasonStart + next
		}
		if nl := strings.IndexByte(text[reasonStart:], '\n'); nl != -1 && reasonStart+nl < end {
			end = reasonStart + nl
		}
		reason := strings.TrimSpace(text[reasonStart:end])

		if name != "" && len(name) <= maxDelegateNameLen {
			out = append(out, Delegation{Name: name, Reason: reason})
		}
		pos = end
	}
	return out
}
