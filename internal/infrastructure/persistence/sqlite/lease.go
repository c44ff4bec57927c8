package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// TryAcquireLease takes the named lease for holder until now+ttl. It succeeds
// when the lease is free, expired, or already held by holder.
func (s *Store) TryAcquireLease(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.holder = excluded.holder OR leases.expires_at <= ?
	`, name, holder, toNanos(now.Add(ttl)), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %q: %w", name, err)
	}
	return n == 1, nil
}

// ReleaseLease drops the named lease if holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder); err != nil {
		return fmt.Errorf("failed to release lease %q: %w", name, err)
	}
	return nil
}

// Lease is a cross-process lock backed by the leases table. The TTL bounds how
// long a crashed holder can block others.
type Lease struct {
	store  *Store
	name   string
	holder string
	ttl    time.Duration
	poll   time.Duration
	now    func() time.Time
}

// NewLease returns a lease on name held under a fresh holder ID.
func (s *Store) NewLease(name string, ttl time.Duration) *Lease {
	return &Lease{
		store:  s,
		name:   name,
		holder: uuid.NewString(),
		ttl:    ttl,
		poll:   100 * time.Millisecond,
		now:    time.Now,
	}
}

// Acquire blocks until the lease is held or ctx is done. The returned func
// releases it.
func (l *Lease) Acquire(ctx context.Context) (func(), error) {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.store.TryAcquireLease(ctx, l.name, l.holder, l.now(), l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { l.release(ctx) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Lease) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.store.ReleaseLease(ctx, l.name, l.holder); err != nil {
		slog.WarnContext(ctx, "failed to release lease",
			"lease", l.name,
			"error", err)
	}
}
