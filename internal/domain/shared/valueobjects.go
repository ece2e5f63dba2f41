package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// UserID Value Object
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a learner. It is opaque to the engine: the identity
// provider decides its format.
type UserID string

// MaxUserIDLength bounds stored identifiers.
const MaxUserIDLength = 128

// IsValid checks that the ID is non-empty and reasonably sized.
func (u UserID) IsValid() bool {
	s := strings.TrimSpace(string(u))
	return s != "" && len(s) <= MaxUserIDLength
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a validated UserID.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	return u, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points earned by a learner.
type XP int

const (
	// XP boundaries
	MinXP XP = 0
	MaxXP XP = 1000000000
)

// IsValid checks if the XP value is within valid range.
func (x XP) IsValid() bool {
	return x >= MinXP && x <= MaxXP
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Add adds a non-negative amount and returns the result, capped at MaxXP.
// Negative amounts are ignored: totals never decrease through gameplay.
func (x XP) Add(amount int) XP {
	if amount <= 0 {
		return x
	}
	result := XP(int(x) + amount)
	if result > MaxXP || result < x {
		return MaxXP
	}
	return result
}

// NewXP creates a new XP value with validation.
func NewXP(amount int) (XP, error) {
	if amount < int(MinXP) {
		return 0, NewDomainError("shared", "NewXP", ErrNegativeValue, "XP cannot be negative")
	}
	if amount > int(MaxXP) {
		return MaxXP, nil
	}
	return XP(amount), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// ClampScore forces a score into [MinScore, MaxScore].
func ClampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// ClampPercent forces a float percentage into [0, 100].
func ClampPercent(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
