package cache

import (
	"strings"
	"time"
)

const defaultReplayTTL = 15 * time.Minute

// ReplayGuard remembers recently processed gateway event IDs so redelivered
// webhooks can be answered without touching the session store. Entries are
// only added after a delivery fully succeeded; a failed confirmation is never
// marked, so its redelivery still reaches the reconciler.
type ReplayGuard interface {
	Seen(providerEventID string) bool
	Mark(providerEventID string)
}

type replayGuard struct {
	seen Cache[string, struct{}]
	ttl  time.Duration
}

// NewReplayGuard returns an in-memory guard sized to the session lifetime.
func NewReplayGuard() ReplayGuard {
	return &replayGuard{
		seen: NewTTLCache[string, struct{}](),
		ttl:  defaultReplayTTL,
	}
}

func (g *replayGuard) Seen(providerEventID string) bool {
	id := strings.TrimSpace(providerEventID)
	if id == "" {
		return false
	}
	_, ok := g.seen.Get(id)
	return ok
}

func (g *replayGuard) Mark(providerEventID string) {
	id := strings.TrimSpace(providerEventID)
	if id == "" {
		return
	}
	g.seen.Set(id, struct{}{}, g.ttl)
}
