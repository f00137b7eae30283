package idempotency

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTTL          = 24 * time.Hour
	DefaultInFlightTTL  = 30 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
	MinTokenLength      = 16
	keyPrefix           = "checkin:idem:"
)

var (
	ErrInvalidToken = errors.New("idempotency token is required and must be at least 16 characters of letters, digits, '-' or '_'")
	// ErrRequestInFlight is returned when the context ends while another attempt with
	// the same token is still running.
	ErrRequestInFlight = errors.New("a request with this idempotency token is still in progress")
	// ErrMiss is returned by backends when a key is absent or expired.
	ErrMiss = errors.New("idempotency key not found")
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Backend is a key/value store with put-if-absent semantics and expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key string, value []byte) error
}

// Coordinator replays results for repeated (operator, token) pairs. It knows nothing
// about what the payload means.
type Coordinator struct {
	backend      Backend
	ttl          time.Duration
	inFlightTTL  time.Duration
	pollInterval time.Duration
}

type Option func(*Coordinator)

func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.ttl = ttl }
}

func WithInFlightTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.inFlightTTL = ttl }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

func NewCoordinator(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:      backend,
		ttl:          DefaultTTL,
		inFlightTTL:  DefaultInFlightTTL,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateToken checks the token shape before anything touches storage.
func ValidateToken(token string) error {
	if len(token) < MinTokenLength || !tokenPattern.MatchString(token) {
		return ErrInvalidToken
	}
	return nil
}

func resultKey(operatorID, token string) string {
	return keyPrefix + operatorID + ":" + token
}

func inFlightKey(operatorID, token string) string {
	return resultKey(operatorID, token) + ":inflight"
}

// Lookup returns the stored payload for (operatorID, token), if any.
func (c *Coordinator) Lookup(ctx context.Context, operatorID, token string) ([]byte, bool, error) {
	payload, err := c.backend.Get(ctx, resultKey(operatorID, token))
	if errors.Is(err, ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return payload, true, nil
}

// Store saves payload unless a result already exists, and returns whichever payload
// ends up stored.
func (c *Coordinator) Store(ctx context.Context, operatorID, token string, payload []byte) ([]byte, error) {
	key := resultKey(operatorID, token)
	stored, err := c.backend.PutIfAbsent(ctx, key, payload, c.ttl)
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	if stored {
		return payload, nil
	}
	existing, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		// Expired between the two calls; the caller's payload is still the answer.
		return payload, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	return existing, nil
}

// Execute runs fn at most once per (operatorID, token) while the result is retained.
// replayed is true when the payload came from an earlier execution. If fn fails,
// nothing is stored and a retry with the same token runs fn again.
func (c *Coordinator) Execute(ctx context.Context, operatorID, token string, fn func(ctx context.Context) ([]byte, error)) (payload []byte, replayed bool, err error) {
	if err := ValidateToken(token); err != nil {
		return nil, false, err
	}

	if payload, ok, err := c.Lookup(ctx, operatorID, token); err != nil || ok {
		return payload, ok, err
	}

	release, payload, err := c.acquire(ctx, operatorID, token)
	if err != nil {
		return nil, false, err
	}
	if payload != nil {
		return payload, true, nil
	}
	defer release()

	// The previous holder may have finished between our lookup and acquire.
	if payload, ok, err := c.Lookup(ctx, operatorID, token); err != nil || ok {
		return payload, ok, err
	}

	payload, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}

	stored, err := c.Store(ctx, operatorID, token, payload)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// acquire takes the in-flight guard. While someone else holds it, it polls for their
// result; a non-nil payload means that result arrived and the guard was not taken.
func (c *Coordinator) acquire(ctx context.Context, operatorID, token string) (func(), []byte, error) {
	key := inFlightKey(operatorID, token)
	owner := []byte(uuid.NewString())

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := c.backend.PutIfAbsent(ctx, key, owner, c.inFlightTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("idempotency guard: %w", err)
		}
		if ok {
			release := func() {
				// Release must survive the request context being cancelled.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				_ = c.backend.DeleteIfValue(releaseCtx, key, owner)
			}
			return release, nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, ErrRequestInFlight
		case <-ticker.C:
		}

		payload, found, err := c.Lookup(ctx, operatorID, token)
		if err != nil {
			return nil, nil, err
		}
		if found {
			return nil, payload, nil
		}
	}
}
