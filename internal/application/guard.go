package application

import (
	"context"
	"slices"
	"sync"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/sirupsen/logrus"
)

const MaxLoginAttempts = 5

var DefaultSafeAddresses = []string{"127.0.0.1", "::1"}

type GuardObserver interface {
	LoginFailed()
	AddressBanned()
}

// LoginGuard counts failed logins per source address and bans an address
// once it reaches MaxLoginAttempts. Counters live in memory; bans go through
// the BanStore and survive restarts. Safe addresses are never banned.
type LoginGuard struct {
	mu       sync.Mutex
	attempts map[string]int
	safe     map[string]struct{}
	bans     domain.BanStore
	max      int
	log      logrus.FieldLogger
	obs      GuardObserver
}

func NewLoginGuard(bans domain.BanStore, safe []string, log logrus.FieldLogger) *LoginGuard {
	if log == nil {
		log = logrus.StandardLogger()
	}
	g := &LoginGuard{
		attempts: map[string]int{},
		safe:     map[string]struct{}{},
		bans:     bans,
		max:      MaxLoginAttempts,
		log:      log,
	}
	for _, addr := range append(slices.Clone(DefaultSafeAddresses), safe...) {
		g.safe[addr] = struct{}{}
	}
	return g
}

func (g *LoginGuard) SetObserver(obs GuardObserver) { g.obs = obs }

func (g *LoginGuard) IsSafe(addr string) bool {
	_, ok := g.safe[addr]
	return ok
}

// IsBanned reports whether addr is banned and not safe. It must be consulted
// before credentials are verified.
func (g *LoginGuard) IsBanned(ctx context.Context, addr string) (bool, error) {
	if g.IsSafe(addr) {
		return false, nil
	}
	banned, err := g.bans.List(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(banned, addr), nil
}

// RecordFailure increments the counter for addr and returns true when this
// failure banned it.
func (g *LoginGuard) RecordFailure(ctx context.Context, addr string) (bool, error) {
	g.mu.Lock()
	g.attempts[addr]++
	count := g.attempts[addr]
	g.mu.Unlock()

	if g.obs != nil {
		g.obs.LoginFailed()
	}
	entry := g.log.WithFields(logrus.Fields{"remote_addr": addr, "attempt": count})
	if count < g.max {
		entry.Warn("failed login attempt")
		return false, nil
	}
	if g.IsSafe(addr) {
		entry.Warn("login attempt limit reached from safe address, not banning")
		return false, nil
	}

	err := g.bans.Update(ctx, func(current []string) ([]string, error) {
		if slices.Contains(current, addr) {
			return current, nil
		}
		return append(current, addr), nil
	})
	if err != nil {
		return false, err
	}
	if g.obs != nil {
		g.obs.AddressBanned()
	}
	entry.Error("address banned after repeated failed logins")
	return true, nil
}

func (g *LoginGuard) RecordSuccess(addr string) {
	g.mu.Lock()
	delete(g.attempts, addr)
	g.mu.Unlock()
}

// Attempts returns a copy of the current failure counters.
func (g *LoginGuard) Attempts() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.attempts))
	for addr, n := range g.attempts {
		out[addr] = n
	}
	return out
}

func (g *LoginGuard) ListBans(ctx context.Context) ([]string, error) {
	banned, err := g.bans.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(banned)
	return banned, nil
}

// ClearBans lifts the ban on the given addresses, or on every address when
// none are given, and resets their counters. It returns the lifted addresses.
func (g *LoginGuard) ClearBans(ctx context.Context, addrs ...string) ([]string, error) {
	var removed []string
	err := g.bans.Update(ctx, func(current []string) ([]string, error) {
		removed = removed[:0]
		if len(addrs) == 0 {
			removed = append(removed, current...)
			return []string{}, nil
		}
		kept := make([]string, 0, len(current))
		for _, addr := range current {
			if slices.Contains(addrs, addr) {
				removed = append(removed, addr)
				continue
			}
			kept = append(kept, addr)
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	for _, addr := range removed {
		delete(g.attempts, addr)
	}
	g.mu.Unlock()
	return removed, nil
}
