// Package dailyreward решает, доступен ли ежедневный бонус, и применяет его.
//
// Доступность определяется по календарной дате в заданной временной зоне,
// а не по скользящему окну в 24 часа: бонус, полученный в 23:59,
// снова доступен в 00:01.
package dailyreward

import (
	"time"

	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

// DefaultAmount - размер бонуса по умолчанию.
const DefaultAmount = 100

// ErrAlreadyClaimed - бонус уже получен сегодня.
var ErrAlreadyClaimed = shared.NewDomainError("dailyreward", "Claim", shared.ErrAlreadyProcessed, "daily reward already claimed today")

// IsAvailable возвращает true, если бонус не получали ни разу или
// календарная дата lastClaim строго раньше даты now (обе в loc).
func IsAvailable(lastClaim *time.Time, now time.Time, loc *time.Location) bool {
	if lastClaim == nil {
		return true
	}
	return timeutil.IsEarlierDay(*lastClaim, now, loc)
}

// Policy - настройки ежедневного бонуса.
type Policy struct {
	// Amount - XP за один бонус.
	Amount int

	// Location - зона, в которой считаются календарные дни.
	Location *time.Location
}

// NewPolicy создаёт политику. Неположительная сумма заменяется на
// DefaultAmount, nil-зона - на UTC.
func NewPolicy(amount int, loc *time.Location) Policy {
	if amount <= 0 {
		amount = DefaultAmount
	}
	if loc == nil {
		loc = time.UTC
	}
	return Policy{Amount: amount, Location: loc}
}

// DefaultPolicy - 100 XP, календарные дни в UTC.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultAmount, time.UTC)
}

// Claim - результат применения бонуса.
type Claim struct {
	Amount    int       `json:"amount"`
	NewTotal  int       `json:"newTotal"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// IsAvailable checks availability for a position.
func (p Policy) IsAvailable(pos *progression.Position, now time.Time) bool {
	return IsAvailable(pos.LastDailyClaim, now, p.Location)
}

// Claim начисляет бонус позиции. Если бонус недоступен, возвращает
// ErrAlreadyClaimed и позицию не меняет.
func (p Policy) Claim(pos *progression.Position, now time.Time) (Claim, error) {
	if !p.IsAvailable(pos, now) {
		return Claim{}, ErrAlreadyClaimed
	}
	pos.AddXP(p.Amount)
	claimedAt := now
	pos.LastDailyClaim = &claimedAt
	return Claim{
		Amount:    p.Amount,
		NewTotal:  pos.TotalXP,
		ClaimedAt: claimedAt,
	}, nil
}

// NextAvailableAt возвращает момент, когда бонус снова станет доступен.
// Если он доступен уже сейчас, возвращается now.
func (p Policy) NextAvailableAt(lastClaim *time.Time, now time.Time) time.Time {
	if IsAvailable(lastClaim, now, p.Location) {
		return now
	}
	return timeutil.StartOfNextDay(*lastClaim, p.Location)
}
