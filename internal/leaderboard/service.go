package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"concord.chat/internal/leveling"
	"concord.chat/internal/obs"
)

const (
	UnknownUser = "Unknown User"

	DefaultPageSize = 10
	MaxPageSize     = 25
	DefaultTTL      = time.Hour
	DefaultCleanup  = 10 * time.Minute

	nameLookupConcurrency = 5
)

// NameResolver attaches display names to ranked members.
type NameResolver interface {
	DisplayName(ctx context.Context, guildID, userID string) (string, error)
}

// Query selects one leaderboard page.
type Query struct {
	GuildID  string
	Type     Type
	Page     int
	PageSize int
	// ForceRefresh bypasses the cache and repopulates it.
	ForceRefresh bool
}

// Entry is one ranked member.
type Entry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Value       int64  `json:"value"`
	Secondary   int64  `json:"secondary"`
}

// Page is a slice of the ranking.
type Page struct {
	GuildID     string    `json:"guild_id"`
	Type        Type      `json:"type"`
	Page        int       `json:"page"`
	PageSize    int       `json:"page_size"`
	Total       int       `json:"total"`
	TotalPages  int       `json:"total_pages"`
	Entries     []Entry   `json:"entries"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Rank is a member's position in the XP ranking.
type Rank struct {
	GuildID     string            `json:"guild_id"`
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	Position    int               `json:"position"`
	Total       int               `json:"total"`
	Record      leveling.Record   `json:"record"`
	Progress    leveling.Progress `json:"progress"`
}

// Service builds and caches leaderboard pages.
type Service struct {
	sources  map[Type]Source
	names    NameResolver
	cache    *cache.Cache
	ttl      time.Duration
	cleanup  time.Duration
	pageSize int
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets how long pages live and how often expired pages are swept.
func WithTTL(ttl, cleanup time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
		if cleanup > 0 {
			s.cleanup = cleanup
		}
	}
}

// WithDefaultPageSize sets the size used when a query does not set one.
func WithDefaultPageSize(n int) Option {
	return func(s *Service) { s.pageSize = clampSize(n) }
}

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires the ranking sources. xp is required; balance may be nil.
// A nil resolver names everyone UnknownUser.
func NewService(xp XPRecords, balance Source, names NameResolver, opts ...Option) (*Service, error) {
	if xp == nil {
		return nil, errors.New("leaderboard: xp records are required")
	}
	s := &Service{
		sources:  map[Type]Source{TypeXP: XPSource{Records: xp}},
		names:    names,
		ttl:      DefaultTTL,
		cleanup:  DefaultCleanup,
		pageSize: DefaultPageSize,
		log:      obs.Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if balance != nil {
		s.sources[TypeBalance] = balance
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New(s.ttl, s.cleanup)
	return s, nil
}

func clampSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

func cacheKey(t Type, guildID string, page, size int) string {
	return fmt.Sprintf("%s:%s:%d:%d", t, guildID, page, size)
}

// GetPage returns the requested page, from cache unless q.ForceRefresh is set.
func (s *Service) GetPage(ctx context.Context, q Query) (Page, error) {
	q.GuildID = strings.TrimSpace(q.GuildID)
	if q.GuildID == "" {
		return Page{}, fmt.Errorf("%w: guild id is required", ErrInvalidInput)
	}
	if q.Page < 1 {
		return Page{}, fmt.Errorf("%w: page must be >= 1", ErrInvalidInput)
	}
	if q.Type == "" {
		q.Type = TypeXP
	}
	src, ok := s.sources[q.Type]
	if !ok {
		return Page{}, fmt.Errorf("%w: unsupported leaderboard type %q", ErrInvalidInput, q.Type)
	}
	if q.PageSize == 0 {
		q.PageSize = s.pageSize
	}
	q.PageSize = clampSize(q.PageSize)

	key := cacheKey(q.Type, q.GuildID, q.Page, q.PageSize)
	if !q.ForceRefresh {
		if v, found := s.cache.Get(key); found {
			obs.LeaderboardCache.WithLabelValues("hit").Inc()
			return clonePage(v.(Page)), nil
		}
		obs.LeaderboardCache.WithLabelValues("miss").Inc()
	} else {
		obs.LeaderboardCache.WithLabelValues("refresh").Inc()
	}

	rows, err := src.Rows(ctx, q.GuildID)
	if err != nil {
		return Page{}, err
	}
	sortRows(rows)

	total := len(rows)
	totalPages := (total + q.PageSize - 1) / q.PageSize
	if q.Page > max(totalPages, 1) {
		return Page{}, &PageOutOfRangeError{Page: q.Page, TotalPages: totalPages}
	}

	start := (q.Page - 1) * q.PageSize
	end := min(start+q.PageSize, total)
	entries := make([]Entry, 0, end-start)
	for i := start; i < end; i++ {
		entries = append(entries, Entry{
			Rank:      i + 1,
			UserID:    rows[i].UserID,
			Value:     rows[i].Primary,
			Secondary: rows[i].Secondary,
		})
	}
	s.attachNames(ctx, q.GuildID, entries)

	p := Page{
		GuildID:     q.GuildID,
		Type:        q.Type,
		Page:        q.Page,
		PageSize:    q.PageSize,
		Total:       total,
		TotalPages:  totalPages,
		Entries:     entries,
		GeneratedAt: s.now(),
	}
	s.cache.Set(key, p, s.ttl)
	return clonePage(p), nil
}

// UserRank scans the guild under the page ordering and reports the member's
// 1-based XP position.
func (s *Service) UserRank(ctx context.Context, guildID, userID string) (Rank, error) {
	if strings.TrimSpace(guildID) == "" || strings.TrimSpace(userID) == "" {
		return Rank{}, fmt.Errorf("%w: guild and user ids are required", ErrInvalidInput)
	}
	xp, ok := s.sources[TypeXP].(XPSource)
	if !ok {
		return Rank{}, errors.New("leaderboard: xp source not configured")
	}
	recs, err := xp.Records.List(ctx, guildID)
	if err != nil {
		return Rank{}, err
	}
	rows := make([]Row, 0, len(recs))
	var (
		rec   leveling.Record
		found bool
	)
	for _, r := range recs {
		rows = append(rows, Row{UserID: r.UserID, Primary: r.XP, Secondary: int64(leveling.LevelFor(r.XP))})
		if r.UserID == userID {
			rec, found = r, true
		}
	}
	if !found {
		return Rank{}, ErrNotFound
	}
	sortRows(rows)
	pos := 0
	for i, r := range rows {
		if r.UserID == userID {
			pos = i + 1
			break
		}
	}
	rec.Level = leveling.LevelFor(rec.XP)
	return Rank{
		GuildID:     guildID,
		UserID:      userID,
		DisplayName: s.displayName(ctx, guildID, userID),
		Position:    pos,
		Total:       len(rows),
		Record:      rec,
		Progress:    leveling.ProgressFor(rec.XP),
	}, nil
}

// InvalidateGuild drops every cached page of the guild.
func (s *Service) InvalidateGuild(guildID string) {
	for key := range s.cache.Items() {
		parts := strings.SplitN(key, ":", 3)
		if len(parts) == 3 && parts[1] == guildID {
			s.cache.Delete(key)
		}
	}
}

// Flush drops every cached page.
func (s *Service) Flush() { s.cache.Flush() }

// CachedPages reports the number of unexpired cached pages.
func (s *Service) CachedPages() int { return s.cache.ItemCount() }

func (s *Service) attachNames(ctx context.Context, guildID string, entries []Entry) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nameLookupConcurrency)
	for i := range entries {
		g.Go(func() error {
			entries[i].DisplayName = s.displayName(gctx, guildID, entries[i].UserID)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) displayName(ctx context.Context, guildID, userID string) string {
	if s.names == nil {
		return UnknownUser
	}
	name, err := s.names.DisplayName(ctx, guildID, userID)
	if err != nil {
		s.log.Debug("display name lookup failed",
			zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return UnknownUser
	}
	if strings.TrimSpace(name) == "" {
		return UnknownUser
	}
	return name
}

func clonePage(p Page) Page {
	p.Entries = append(make([]Entry, 0, len(p.Entries)), p.Entries...)
	return p
}
