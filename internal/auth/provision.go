package auth

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tokligence/chatrelay/internal/hooks"
	"github.com/tokligence/chatrelay/internal/metrics"
	"github.com/tokligence/chatrelay/internal/userstore"
)

// Provisioner creates a user record on first sight of an identity.
type Provisioner struct {
	store   userstore.Store
	balance int64
	logger  *log.Logger
	hooks   *hooks.Dispatcher

	group singleflight.Group
	mu    sync.Mutex
	known map[string]struct{}
}

// NewProvisioner returns a Provisioner granting balance to new users.
func NewProvisioner(store userstore.Store, balance int64, logger *log.Logger) *Provisioner {
	if balance <= 0 {
		balance = userstore.DefaultBalance
	}
	return &Provisioner{
		store:   store,
		balance: balance,
		logger:  logger,
		known:   make(map[string]struct{}),
	}
}

// SetHooks emits EventUserProvisioned to d whenever a user record is created.
func (p *Provisioner) SetHooks(d *hooks.Dispatcher) { p.hooks = d }

// Provision ensures a user record exists for id and returns the viewer. Concurrent first
// requests for the same identity share a single insert; later calls only read.
// Anonymous identities are never stored.
func (p *Provisioner) Provision(ctx context.Context, id Identity) (Viewer, error) {
	if id.Anonymous() {
		return Viewer{Identity: id}, nil
	}

	p.mu.Lock()
	_, seen := p.known[id.UserID]
	p.mu.Unlock()
	if seen {
		u, err := p.store.GetUser(ctx, id.UserID)
		if err == nil {
			return viewerFor(id, u), nil
		}
		// the record may have been removed out of band; provision again
		p.mu.Lock()
		delete(p.known, id.UserID)
		p.mu.Unlock()
	}

	v, err, _ := p.group.Do(id.UserID, func() (any, error) {
		u, created, err := p.store.EnsureUser(ctx, userstore.User{ID: id.UserID, UserName: id.UserName, Email: id.Email}, p.balance)
		if err != nil {
			return nil, err
		}
		if created {
			metrics.UsersProvisioned.Inc()
			if p.logger != nil {
				p.logger.Printf("provisioned user %s with balance %d", u.ID, u.Balance)
			}
			evt := hooks.NewEvent(hooks.EventUserProvisioned, u.ID, map[string]any{"email": u.Email, "balance": u.Balance})
			if err := p.hooks.Emit(ctx, evt); err != nil && p.logger != nil {
				p.logger.Printf("user hook failed: %v", err)
			}
		}
		p.mu.Lock()
		p.known[id.UserID] = struct{}{}
		p.mu.Unlock()
		return u, nil
	})
	if err != nil {
		return Viewer{}, fmt.Errorf("auth: provision %s: %w", id.UserID, err)
	}
	return viewerFor(id, v.(*userstore.User)), nil
}

func viewerFor(id Identity, u *userstore.User) Viewer {
	if id.UserName == "" {
		id.UserName = u.UserName
	}
	if id.Email == "" {
		id.Email = u.Email
	}
	return Viewer{Identity: id, Balance: u.Balance}
}
