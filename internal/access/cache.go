package access

import "sync"

// Cache holds resolved effective permission sets and command requirements.
//
// Every invalidation bumps the guild's generation. A loader snapshots the
// generation before reading the store and the cache refuses the result if the
// generation moved in the meantime, so a read racing a mutation can never
// reinstate what the mutation removed.
type Cache struct {
	mu     sync.Mutex
	guilds map[string]*guildEntries
}

type guildEntries struct {
	gen      uint64
	users    map[string]Set
	commands map[string]requirement
}

type requirement struct {
	names      []string
	restricted bool
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{guilds: make(map[string]*guildEntries)}
}

// Generation returns the current invalidation counter for a guild.
func (c *Cache) Generation(guildID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.guilds[guildID]; ok {
		return g.gen
	}
	return 0
}

func (c *Cache) user(guildID, userID string) (Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.guilds[guildID]
	if !ok {
		return nil, false
	}
	set, ok := g.users[userID]
	return set, ok
}

func (c *Cache) storeUser(guildID, userID string, set Set, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.guildLocked(guildID)
	if g.gen != gen {
		return false
	}
	g.users[userID] = set
	return true
}

func (c *Cache) command(guildID, command string) (requirement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.guilds[guildID]
	if !ok {
		return requirement{}, false
	}
	req, ok := g.commands[command]
	return req, ok
}

func (c *Cache) storeCommand(guildID, command string, req requirement, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.guildLocked(guildID)
	if g.gen != gen {
		return false
	}
	g.commands[command] = req
	return true
}

// InvalidateUser drops the cached effective set of one member.
func (c *Cache) InvalidateUser(guildID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.guildLocked(guildID)
	g.gen++
	delete(g.users, userID)
}

// InvalidateCommand drops the cached requirement of one command.
func (c *Cache) InvalidateCommand(guildID, command string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.guildLocked(guildID)
	g.gen++
	delete(g.commands, command)
}

// InvalidateGuild drops everything cached for a guild.
func (c *Cache) InvalidateGuild(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.guildLocked(guildID)
	g.gen++
	g.users = make(map[string]Set)
	g.commands = make(map[string]requirement)
}

// Len reports the number of cached entries across all guilds.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, g := range c.guilds {
		n += len(g.users) + len(g.commands)
	}
	return n
}

func (c *Cache) guildLocked(guildID string) *guildEntries {
	g, ok := c.guilds[guildID]
	if !ok {
		g = &guildEntries{
			users:    make(map[string]Set),
			commands: make(map[string]requirement),
		}
		c.guilds[guildID] = g
	}
	return g
}
