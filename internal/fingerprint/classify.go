// Package fingerprint classifies pairs of note fingerprints into a
// reconciliation status without reading note content.
package fingerprint

import "github.com/starford/ansuz/internal/models"

// Status is the outcome of comparing a left (leader) and right (follower)
// fingerprint for the same identity.
type Status int

const (
	// Invalid is returned only when both sides are absent.
	Invalid Status = iota
	Same
	LeftNewer
	RightNewer
	LeftOnly
	RightOnly
	// Conflict means equal modification seconds with different sizes;
	// no ordering is possible.
	Conflict
)

var statusNames = [...]string{
	Invalid:    "invalid",
	Same:       "same",
	LeftNewer:  "left_newer",
	RightNewer: "right_newer",
	LeftOnly:   "left_only",
	RightOnly:  "right_only",
	Conflict:   "conflict",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Statuses lists every status Classify can return for a valid input.
func Statuses() []Status {
	return []Status{Same, LeftNewer, RightNewer, LeftOnly, RightOnly, Conflict}
}

// Classify compares two optional fingerprints. Identities are not compared;
// callers pair fingerprints by identity beforehand.
func Classify(left, right *models.Fingerprint) Status {
	switch {
	case left == nil && right == nil:
		return Invalid
	case right == nil:
		return LeftOnly
	case left == nil:
		return RightOnly
	case left.Modified == right.Modified && left.Size == right.Size:
		return Same
	case left.Modified > right.Modified:
		return LeftNewer
	case left.Modified < right.Modified:
		return RightNewer
	default:
		return Conflict
	}
}
