package economy

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	accts map[string]map[string]Account // guild -> user -> account
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{accts: make(map[string]map[string]Account)}
}

func (s *InMemory) Account(_ context.Context, guildID, userID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accts[guildID][userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemory) SaveAccount(ctx context.Context, a Account) error {
	return s.SaveAccounts(ctx, a)
}

func (s *InMemory) SaveAccounts(_ context.Context, accts ...Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accts {
		guild := s.accts[a.GuildID]
		if guild == nil {
			guild = make(map[string]Account)
			s.accts[a.GuildID] = guild
		}
		guild[a.UserID] = a
	}
	return nil
}

func (s *InMemory) ListAccounts(_ context.Context, guildID string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accts[guildID]))
	for _, a := range s.accts[guildID] {
		out = append(out, a)
	}
	return out, nil
}

func (s *InMemory) Guilds(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.accts))
	for g := range s.accts {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}
