package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config configures a Coordinator.
type Config struct {
	// LockPrefix namespaces owner locks; the lock for an owner is
	// "<LockPrefix>/<ownerID>".
	LockPrefix string `mapstructure:"lock_prefix"`
	// ExpiryBuffer refreshes tokens this long before they expire.
	ExpiryBuffer time.Duration `mapstructure:"expiry_buffer"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		LockPrefix:   "flowgate/credentials",
		ExpiryBuffer: 5 * time.Minute,
	}
}

// Coordinator hands out access tokens per owner and serializes refreshes
// through the owner's lock. Coordinators sharing a LockRegistry and a Store
// never refresh the same owner concurrently.
type Coordinator struct {
	cfg       Config
	store     Store
	transport Transport
	locks     *LockRegistry
	log       zerolog.Logger
	now       func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, store Store, transport Transport, locks *LockRegistry, log zerolog.Logger) *Coordinator {
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = DefaultConfig().LockPrefix
	}
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		transport: transport,
		locks:     locks,
		log:       log.With().Str("component", "credentials").Logger(),
		now:       time.Now,
	}
}

func (c *Coordinator) lockFor(ownerID string) *NamedLock {
	return c.locks.Get(c.cfg.LockPrefix + "/" + ownerID)
}

// Token returns a usable access token for ownerID. When none is available
// the caller takes the owner's lock, re-reads the state, and refreshes only
// if no one else did in the meantime.
func (c *Coordinator) Token(ctx context.Context, ownerID string) (string, error) {
	st, err := c.store.Load(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("credentials: load state: %w", err)
	}
	if st.Usable(c.now(), c.cfg.ExpiryBuffer) {
		TokenRequestsTotal.WithLabelValues("cached").Inc()
		return st.AccessToken, nil
	}

	lock := c.lockFor(ownerID)
	if err := lock.Lock(ctx); err != nil {
		return "", fmt.Errorf("credentials: wait for owner lock: %w", err)
	}
	defer lock.Unlock()

	st, err = c.store.Load(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("credentials: load state: %w", err)
	}
	if st.Usable(c.now(), c.cfg.ExpiryBuffer) {
		TokenRequestsTotal.WithLabelValues("waited").Inc()
		return st.AccessToken, nil
	}
	TokenRequestsTotal.WithLabelValues("refreshed").Inc()
	return c.refreshLocked(ctx, st)
}

// Refresh forces a new token, typically after the current one was rejected.
// If a refresh for the owner is already in flight it waits for that one and
// returns its token. When the lock holder left no token behind, because its
// refresh failed or it was not refreshing at all, the waiter makes its own
// attempt while still holding the lock.
func (c *Coordinator) Refresh(ctx context.Context, ownerID string) (string, error) {
	lock := c.lockFor(ownerID)
	waited := !lock.TryLock()
	if waited {
		if err := lock.Lock(ctx); err != nil {
			return "", fmt.Errorf("credentials: wait for owner lock: %w", err)
		}
	}
	defer lock.Unlock()

	st, err := c.store.Load(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("credentials: load state: %w", err)
	}
	if waited && st.State == StateHasToken && st.AccessToken != "" {
		TokenRequestsTotal.WithLabelValues("waited").Inc()
		return st.AccessToken, nil
	}
	return c.refreshLocked(ctx, st)
}

// refreshLocked retrieves a token while holding the owner's lock. A
// REFRESHING state found here was left by a holder that died mid-refresh
// and is treated like NO_TOKEN.
func (c *Coordinator) refreshLocked(ctx context.Context, st *OwnerState) (string, error) {
	if st.State == StateRefreshing {
		c.log.Warn().Str("owner_id", st.OwnerID).Msg("Found stale refreshing state, treating as no token")
	}

	st.State = StateRefreshing
	st.UpdatedAt = c.now().UTC()
	if err := c.store.Save(ctx, st); err != nil {
		return "", fmt.Errorf("credentials: save state: %w", err)
	}

	start := time.Now()
	resp, err := c.transport.FetchToken(ctx, TokenRequest{OwnerID: st.OwnerID, RefreshToken: st.RefreshToken})
	RefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		RefreshesTotal.WithLabelValues("failure").Inc()
		st.State = StateNoToken
		st.AccessToken = ""
		st.ExpiresAt = time.Time{}
		st.UpdatedAt = c.now().UTC()
		if serr := c.store.Save(context.WithoutCancel(ctx), st); serr != nil {
			c.log.Error().Err(serr).Str("owner_id", st.OwnerID).Msg("Failed to reset state after refresh failure")
		}
		c.log.Warn().Err(err).Str("owner_id", st.OwnerID).Msg("Token refresh failed")
		return "", &RefreshError{OwnerID: st.OwnerID, Err: err}
	}

	now := c.now()
	st.State = StateHasToken
	st.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		st.RefreshToken = resp.RefreshToken
	}
	st.ExpiresAt = time.Time{}
	if resp.ExpiresIn > 0 {
		st.ExpiresAt = now.Add(resp.ExpiresIn).UTC()
	}
	if len(resp.Metadata) > 0 {
		st.Metadata = resp.Metadata
	}
	st.UpdatedAt = now.UTC()
	if err := c.store.Save(ctx, st); err != nil {
		RefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("credentials: save state: %w", err)
	}

	RefreshesTotal.WithLabelValues("success").Inc()
	c.log.Info().
		Str("owner_id", st.OwnerID).
		Time("expires_at", st.ExpiresAt).
		Msg("Token refreshed")
	return st.AccessToken, nil
}

// Invalidate drops the owner's tokens and resets it to NO_TOKEN. It waits
// for an in-flight refresh to finish first.
func (c *Coordinator) Invalidate(ctx context.Context, ownerID string) error {
	lock := c.lockFor(ownerID)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("credentials: wait for owner lock: %w", err)
	}
	defer lock.Unlock()

	st := newOwnerState(ownerID)
	st.UpdatedAt = c.now().UTC()
	if err := c.store.Save(ctx, st); err != nil {
		return fmt.Errorf("credentials: save state: %w", err)
	}
	c.log.Info().Str("owner_id", ownerID).Msg("Token invalidated")
	return nil
}

// State returns a snapshot of the owner's state.
func (c *Coordinator) State(ctx context.Context, ownerID string) (*OwnerState, error) {
	st, err := c.store.Load(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("credentials: load state: %w", err)
	}
	return st, nil
}
