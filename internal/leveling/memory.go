package leveling

import (
	"context"
	"slices"
	"sync"
)

// InMemory implements Store and ConfigStore in process memory.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // guild -> user -> record
	configs map[string]Config
}

var (
	_ Store       = (*InMemory)(nil)
	_ ConfigStore = (*InMemory)(nil)
)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[string]map[string]Record),
		configs: make(map[string]Config),
	}
}

func (s *InMemory) XPRecord(_ context.Context, guildID, userID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[guildID][userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemory) SaveXPRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild := s.records[rec.GuildID]
	if guild == nil {
		guild = make(map[string]Record)
		s.records[rec.GuildID] = guild
	}
	guild[rec.UserID] = rec
	return nil
}

func (s *InMemory) ApplyXP(_ context.Context, d XPDelta) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild := s.records[d.GuildID]
	if guild == nil {
		guild = make(map[string]Record)
		s.records[d.GuildID] = guild
	}
	rec, ok := guild[d.UserID]
	if !ok {
		rec = Record{GuildID: d.GuildID, UserID: d.UserID, CreatedAt: d.At}
	}
	if !d.Cutoff.IsZero() && !rec.LastXPGain.IsZero() && rec.LastXPGain.After(d.Cutoff) {
		return rec, ErrCooldown
	}
	rec.XP += d.Amount
	rec.Level = LevelFor(rec.XP)
	if !d.GainedAt.IsZero() {
		rec.LastXPGain = d.GainedAt
	}
	rec.UpdatedAt = d.At
	guild[d.UserID] = rec
	return rec, nil
}

func (s *InMemory) ListXPRecords(_ context.Context, guildID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records[guildID]))
	for _, rec := range s.records[guildID] {
		out = append(out, rec)
	}
	return out, nil
}

func (s *InMemory) DeleteXPRecord(_ context.Context, guildID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[guildID][userID]; !ok {
		return ErrNotFound
	}
	delete(s.records[guildID], userID)
	return nil
}

func (s *InMemory) LevelingConfig(_ context.Context, guildID string) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[guildID]
	if !ok {
		return Config{}, ErrNotFound
	}
	cfg.BlacklistedChannels = slices.Clone(cfg.BlacklistedChannels)
	cfg.BlacklistedRoles = slices.Clone(cfg.BlacklistedRoles)
	return cfg, nil
}

func (s *InMemory) SaveLevelingConfig(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.BlacklistedChannels = slices.Clone(cfg.BlacklistedChannels)
	cfg.BlacklistedRoles = slices.Clone(cfg.BlacklistedRoles)
	s.configs[cfg.GuildID] = cfg
	return nil
}
