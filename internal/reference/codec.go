// Package reference converts change request ids into processor-safe payment
// references and back.
package reference

import (
	"strings"
	"time"
)

const (
	// MaxLength is the processor hard limit for a reference id.
	MaxLength = 40

	separator   = "-"
	compactLen  = 32
	maxItemLen  = MaxLength - compactLen - len(separator)
	diagSegment = 8
)

// uuid group boundaries used when expanding a compact id.
var groups = []int{8, 4, 4, 4, 12}

// Encode returns "{itemID}-{requestID without dashes, max 32 chars}".
// The item id is clipped so the result never exceeds MaxLength.
func Encode(itemID, requestID string) string {
	itemID = strings.TrimSpace(itemID)
	if len(itemID) > maxItemLen {
		itemID = itemID[:maxItemLen]
	}

	compact := strings.ReplaceAll(strings.TrimSpace(requestID), separator, "")
	if len(compact) > compactLen {
		compact = compact[:compactLen]
	}

	return itemID + separator + compact
}

// Decode recovers the request id embedded by Encode. It reports false for any
// reference that was not produced from a uuid request id.
func Decode(ref string) (string, bool) {
	_, rest, ok := strings.Cut(strings.TrimSpace(ref), separator)
	if !ok || len(rest) != compactLen || !isHex(rest) {
		return "", false
	}

	var b strings.Builder
	b.Grow(compactLen + len(groups) - 1)
	offset := 0
	for i, size := range groups {
		if i > 0 {
			b.WriteString(separator)
		}
		b.WriteString(rest[offset : offset+size])
		offset += size
	}
	return b.String(), true
}

// EncodeDiagnostic builds a human readable reference for support staff when no
// request id exists yet. It is not decodable and must not be used to match
// payments back to requests.
func EncodeDiagnostic(at time.Time, teamID, captainID, eventID string) string {
	parts := []string{
		at.UTC().Format("20060102"),
		segment(teamID),
		segment(captainID),
		segment(eventID),
	}
	out := strings.Join(parts, separator)
	if len(out) > MaxLength {
		out = out[:MaxLength]
	}
	return out
}

func segment(id string) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() == diagSegment {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
