package quota

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
)

// Unlimited is the sentinel allowance for a model group with no daily cap.
const Unlimited int64 = -1

// ErrQuotaExhausted is returned by Reserve when the combined reward balance
// and daily allowance cannot cover the requested amount.
var ErrQuotaExhausted = errors.New("quota exhausted")

// AllowanceFunc returns the daily allowance cap for a user and model group.
// It is read on every rollover so config changes take effect the next day
// boundary (or immediately for users with no entry yet). Returning Unlimited
// disables the daily gate for that group.
type AllowanceFunc func(userID int64, group credential.ModelGroup) int64

// Persister receives ledger entries after each mutation. Implementations are
// expected to be fast; failures are logged, never propagated, and the
// in-memory ledger stays authoritative.
type Persister interface {
	SaveQuota(userID int64, group credential.ModelGroup, day time.Time, reward, used int64) error
}

type entryKey struct {
	userID int64
	group  credential.ModelGroup
}

type entry struct {
	mutex  sync.Mutex
	reward int64
	used   int64 // consumed from the daily allowance since day
	day    time.Time
}

// Ledger tracks quota consumption with per-key locking: unrelated users and
// groups never contend.
type Ledger struct {
	mutex     sync.RWMutex
	entries   map[entryKey]*entry
	allowance AllowanceFunc
	resetHour int
	persist   Persister
	logger    *slog.Logger
}

func NewLedger(allowance AllowanceFunc, resetHour int, persist Persister, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		entries:   make(map[entryKey]*entry),
		allowance: allowance,
		resetHour: resetHour,
		persist:   persist,
		logger:    logger,
	}
}

// DayStart returns the start of the quota day containing now, given the UTC
// hour at which days roll over.
func DayStart(now time.Time, resetHour int) time.Time {
	now = now.UTC()
	boundary := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// Remaining returns the combined reward balance and daily allowance left for
// the user and group. Returns Unlimited when the group has no daily cap.
// Remaining never mutates state.
func (l *Ledger) Remaining(userID int64, group credential.ModelGroup, now time.Time) int64 {
	cap := l.allowance(userID, group)
	if cap == Unlimited {
		return Unlimited
	}

	e := l.lookup(userID, group)
	if e == nil {
		return cap
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	used := e.used
	if e.day.Before(DayStart(now, l.resetHour)) {
		used = 0 // stale day stamp: the allowance has rolled over
	}

	left := cap - used
	if left < 0 {
		left = 0
	}
	return e.reward + left
}

// Reserve atomically consumes amount units, depleting the reward balance
// before the daily allowance. When the combined remainder cannot cover the
// amount it fails with ErrQuotaExhausted and performs no partial decrement.
func (l *Ledger) Reserve(userID int64, group credential.ModelGroup, now time.Time, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("quota: reserve amount must be positive, got %d", amount)
	}

	e := l.getOrCreate(userID, group, now)

	e.mutex.Lock()
	defer e.mutex.Unlock()

	l.rollover(e, now)

	cap := l.allowance(userID, group)

	fromReward := amount
	if fromReward > e.reward {
		fromReward = e.reward
	}
	fromDaily := amount - fromReward

	if cap != Unlimited && fromDaily > cap-e.used {
		return ErrQuotaExhausted
	}

	e.reward -= fromReward
	e.used += fromDaily

	if e.reward < 0 {
		panic(fmt.Sprintf("quota: negative reward balance for user %d group %s", userID, group))
	}

	l.save(userID, group, e)
	return nil
}

// Release returns previously reserved units, restoring consumed daily
// allowance first and crediting any remainder back to the reward balance.
// Called when a reservation's credential claim falls through.
func (l *Ledger) Release(userID int64, group credential.ModelGroup, now time.Time, amount int64) {
	if amount <= 0 {
		return
	}

	e := l.lookup(userID, group)
	if e == nil {
		return
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	l.rollover(e, now)

	fromDaily := amount
	if fromDaily > e.used {
		fromDaily = e.used
	}
	e.used -= fromDaily
	e.reward += amount - fromDaily

	l.save(userID, group, e)
}

// Credit adds to the user's one-time reward balance for a model group. It is
// called on credential upload and never touches the daily allowance.
func (l *Ledger) Credit(userID int64, group credential.ModelGroup, amount int64) {
	if amount <= 0 {
		return
	}

	e := l.getOrCreate(userID, group, time.Now())

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.reward += amount
	l.save(userID, group, e)
}

// Debit claws back reward balance, flooring at zero. Used when a donated
// credential turns out to be dead and its upload reward is revoked.
func (l *Ledger) Debit(userID int64, group credential.ModelGroup, amount int64) {
	if amount <= 0 {
		return
	}

	e := l.lookup(userID, group)
	if e == nil {
		return
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.reward -= amount
	if e.reward < 0 {
		e.reward = 0
	}
	l.save(userID, group, e)
}

// RewardBalance returns the current reward balance for a user and group.
func (l *Ledger) RewardBalance(userID int64, group credential.ModelGroup) int64 {
	e := l.lookup(userID, group)
	if e == nil {
		return 0
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.reward
}

// Load seeds an entry from persisted state. Meant for startup hydration,
// before the ledger is shared between goroutines.
func (l *Ledger) Load(userID int64, group credential.ModelGroup, day time.Time, reward, used int64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.entries[entryKey{userID, group}] = &entry{
		reward: reward,
		used:   used,
		day:    day,
	}
}

func (l *Ledger) lookup(userID int64, group credential.ModelGroup) *entry {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.entries[entryKey{userID, group}]
}

func (l *Ledger) getOrCreate(userID int64, group credential.ModelGroup, now time.Time) *entry {
	k := entryKey{userID, group}

	l.mutex.RLock()
	e, ok := l.entries[k]
	l.mutex.RUnlock()

	if ok {
		return e
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if e, ok = l.entries[k]; ok {
		return e
	}

	e = &entry{day: DayStart(now, l.resetHour)}
	l.entries[k] = e
	return e
}

// rollover resets consumed daily allowance when the entry's day stamp is
// stale. Caller must hold the entry lock.
func (l *Ledger) rollover(e *entry, now time.Time) {
	day := DayStart(now, l.resetHour)
	if e.day.Before(day) {
		e.used = 0
		e.day = day
	}
}

// save writes through to the persister. Caller must hold the entry lock.
func (l *Ledger) save(userID int64, group credential.ModelGroup, e *entry) {
	if l.persist == nil {
		return
	}
	if err := l.persist.SaveQuota(userID, group, e.day, e.reward, e.used); err != nil {
		l.logger.Error("failed to persist quota entry",
			slog.Int64("user_id", userID),
			slog.String("group", string(group)),
			slog.String("error", err.Error()))
	}
}
