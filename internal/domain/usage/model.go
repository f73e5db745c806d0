package usage

import (
	"strings"
	"time"
)

// Tier is the entitlement level of a device.
type Tier string

const (
	TierFree    Tier = "Free"
	TierPro     Tier = "Pro"
	TierRoaster Tier = "Roaster"
)

// ParseTier accepts tier names case-insensitively.
func ParseTier(raw string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "free":
		return TierFree, true
	case "pro":
		return TierPro, true
	case "roaster":
		return TierRoaster, true
	default:
		return "", false
	}
}

// Paid reports whether the tier bypasses the upload gate.
func (t Tier) Paid() bool {
	return t == TierPro || t == TierRoaster
}

// Record is the persisted daily usage of one device.
type Record struct {
	Count      int       `json:"count"`
	Date       string    `json:"date"`
	Locked     bool      `json:"locked"`
	LockoutEnd time.Time `json:"lockoutEnd,omitzero"`
}

// Decision is the outcome of one authorization attempt. ResetsAt is when the
// daily count starts over and stays zero for paid tiers.
type Decision struct {
	Allowed    bool      `json:"allowed"`
	Tier       Tier      `json:"tier"`
	Count      int       `json:"count"`
	Remaining  int       `json:"remaining"`
	Locked     bool      `json:"locked"`
	LockoutEnd time.Time `json:"lockoutEnd,omitzero"`
	ResetsAt   time.Time `json:"resetsAt,omitzero"`
}
