package leveling

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"concord.chat/internal/store"
)

const lockStripes = 64

type recordKey struct{ guild, user string }

func (k recordKey) String() string { return k.guild + "\x00" + k.user }

// Result is returned by every XP mutation.
type Result struct {
	Record        Record   `json:"record"`
	PreviousLevel int      `json:"previous_level"`
	LeveledUp     bool     `json:"leveled_up"`
	Progress      Progress `json:"progress"`
}

const (
	// DefaultRecordTTL bounds how long a cached record may lag behind writes
	// made by other processes.
	DefaultRecordTTL     = 5 * time.Minute
	defaultRecordCleanup = 10 * time.Minute
)

// Ledger owns XP records: it keeps level consistent with XP and serves reads
// from a write-through cache. Grants go straight to the store as increments,
// so the cache never feeds a write.
type Ledger struct {
	store   Store
	now     func() time.Time
	ttl     time.Duration
	cleanup time.Duration
	cache   *cache.Cache

	stripes [lockStripes]sync.Mutex
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source used for timestamps.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithRecordTTL sets how long records stay cached and how often expired
// entries are swept.
func WithRecordTTL(ttl, cleanup time.Duration) LedgerOption {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
		if cleanup > 0 {
			l.cleanup = cleanup
		}
	}
}

// NewLedger wraps store with a write-through cache.
func NewLedger(s Store, opts ...LedgerOption) (*Ledger, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: leveling store is nil", store.ErrUnavailable)
	}
	l := &Ledger{
		store:   s,
		now:     func() time.Time { return time.Now().UTC() },
		ttl:     DefaultRecordTTL,
		cleanup: defaultRecordCleanup,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cache = cache.New(l.ttl, l.cleanup)
	return l, nil
}

func (l *Ledger) lock(k recordKey) func() {
	h := fnv.New32a()
	h.Write([]byte(k.guild))
	h.Write([]byte{0})
	h.Write([]byte(k.user))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func keyFor(guildID, userID string) (recordKey, error) {
	guildID, userID = strings.TrimSpace(guildID), strings.TrimSpace(userID)
	if guildID == "" || userID == "" {
		return recordKey{}, fmt.Errorf("%w: guild and user ids are required", ErrInvalidInput)
	}
	return recordKey{guild: guildID, user: userID}, nil
}

// GetOrCreate returns the member's record, persisting a fresh level-1 record
// the first time the member is seen.
func (l *Ledger) GetOrCreate(ctx context.Context, guildID, userID string) (Record, error) {
	k, err := keyFor(guildID, userID)
	if err != nil {
		return Record{}, err
	}
	if rec, ok := l.cached(k); ok {
		return rec, nil
	}
	unlock := l.lock(k)
	defer unlock()
	return l.load(ctx, k)
}

// Reload bypasses the cache and refreshes the entry from the store.
func (l *Ledger) Reload(ctx context.Context, guildID, userID string) (Record, error) {
	k, err := keyFor(guildID, userID)
	if err != nil {
		return Record{}, err
	}
	unlock := l.lock(k)
	defer unlock()
	l.cache.Delete(k.String())
	return l.load(ctx, k)
}

// AddXP adds amount to the member's XP and recomputes the level.
func (l *Ledger) AddXP(ctx context.Context, guildID, userID string, amount int64) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	k, err := keyFor(guildID, userID)
	if err != nil {
		return Result{}, err
	}
	unlock := l.lock(k)
	defer unlock()
	return l.apply(ctx, XPDelta{GuildID: k.guild, UserID: k.user, Amount: amount, At: l.now()})
}

// Grant adds amount and records at as the member's last XP gain in the same
// write. The store rejects the write with ErrCooldown when its persisted
// LastXPGain is less than cooldown before at, so every process sharing the
// store observes the same cooldown.
func (l *Ledger) Grant(ctx context.Context, guildID, userID string, amount int64, at time.Time, cooldown time.Duration) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	k, err := keyFor(guildID, userID)
	if err != nil {
		return Result{}, err
	}
	if at.IsZero() {
		at = l.now()
	}
	at = at.UTC()
	if cooldown < 0 {
		cooldown = 0
	}
	unlock := l.lock(k)
	defer unlock()

	res, err := l.apply(ctx, XPDelta{
		GuildID:  k.guild,
		UserID:   k.user,
		Amount:   amount,
		GainedAt: at,
		Cutoff:   at.Add(-cooldown),
		At:       l.now(),
	})
	if errors.Is(err, ErrCooldown) {
		l.cache.Delete(k.String())
	}
	return res, err
}

// apply must be called with the key's stripe held.
func (l *Ledger) apply(ctx context.Context, d XPDelta) (Result, error) {
	rec, err := l.store.ApplyXP(ctx, d)
	if err != nil {
		return Result{}, err
	}
	rec.Level = LevelFor(rec.XP)
	l.put(recordKey{guild: d.GuildID, user: d.UserID}, rec)
	prev := LevelFor(rec.XP - d.Amount)
	return Result{
		Record:        rec,
		PreviousLevel: prev,
		LeveledUp:     rec.Level > prev,
		Progress:      ProgressFor(rec.XP),
	}, nil
}

// SetXP overwrites the member's XP.
func (l *Ledger) SetXP(ctx context.Context, guildID, userID string, xp int64) (Result, error) {
	if xp < 0 {
		return Result{}, fmt.Errorf("%w: xp must be >= 0", ErrInvalidAmount)
	}
	k, err := keyFor(guildID, userID)
	if err != nil {
		return Result{}, err
	}
	unlock := l.lock(k)
	defer unlock()

	l.cache.Delete(k.String())
	rec, err := l.load(ctx, k)
	if err != nil {
		return Result{}, err
	}
	prev := rec.Level
	rec.XP = xp
	return l.save(ctx, rec, prev)
}

// Reset deletes the member's record. A missing record is not an error.
func (l *Ledger) Reset(ctx context.Context, guildID, userID string) error {
	k, err := keyFor(guildID, userID)
	if err != nil {
		return err
	}
	unlock := l.lock(k)
	defer unlock()
	l.cache.Delete(k.String())
	if err := l.store.DeleteXPRecord(ctx, k.guild, k.user); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// List returns every persisted record in the guild, read from the store.
func (l *Ledger) List(ctx context.Context, guildID string) ([]Record, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild id is required", ErrInvalidInput)
	}
	return l.store.ListXPRecords(ctx, guildID)
}

func (l *Ledger) cached(k recordKey) (Record, bool) {
	v, ok := l.cache.Get(k.String())
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

// load must be called with the key's stripe held.
func (l *Ledger) load(ctx context.Context, k recordKey) (Record, error) {
	if rec, ok := l.cached(k); ok {
		return rec, nil
	}
	rec, err := l.store.XPRecord(ctx, k.guild, k.user)
	if errors.Is(err, ErrNotFound) {
		// a zero increment creates the record without clobbering one that another
		// process inserted meanwhile
		rec, err = l.store.ApplyXP(ctx, XPDelta{GuildID: k.guild, UserID: k.user, At: l.now()})
	}
	if err != nil {
		return Record{}, err
	}
	rec.Level = LevelFor(rec.XP)
	l.put(k, rec)
	return rec, nil
}

func (l *Ledger) save(ctx context.Context, rec Record, prevLevel int) (Result, error) {
	rec.Level = LevelFor(rec.XP)
	rec.UpdatedAt = l.now()
	if err := l.store.SaveXPRecord(ctx, rec); err != nil {
		return Result{}, err
	}
	l.put(recordKey{guild: rec.GuildID, user: rec.UserID}, rec)
	return Result{
		Record:        rec,
		PreviousLevel: prevLevel,
		LeveledUp:     rec.Level > prevLevel,
		Progress:      ProgressFor(rec.XP),
	}, nil
}

func (l *Ledger) put(k recordKey, rec Record) {
	l.cache.Set(k.String(), rec, cache.DefaultExpiration)
}
