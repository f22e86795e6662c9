// ABOUTME: Address allocator that derives per-identity IPv6 addresses from a prefix.
// ABOUTME: Assignments and the counter persist in the store; allocation is serialised.

package ipv6

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/2389/coven-irc/internal/irc"
	"github.com/2389/coven-irc/internal/store"
	"github.com/2389/coven-irc/internal/workqueue"
)

// maxCollisions bounds retries when a derived address is already taken.
const maxCollisions = 16

// ErrPrefixExhausted is returned when the counter no longer fits the prefix.
var ErrPrefixExhausted = errors.New("ipv6 prefix exhausted")

type request struct {
	prefix string
	owner  string
}

// Allocator implements bridged.Allocator.
type Allocator struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
	queue  *workqueue.Queue[string, request, string]
}

// Option configures an Allocator.
type Option func(*allocatorOptions)

type allocatorOptions struct {
	observer workqueue.Observer
}

// WithObserver reports allocation queue activity to o.
func WithObserver(o workqueue.Observer) Option {
	return func(opts *allocatorOptions) { opts.observer = o }
}

// New creates an Allocator backed by st.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	var o allocatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &Allocator{
		store:  st,
		logger: logger.With("component", "ipv6"),
		now:    time.Now,
	}

	qopts := []workqueue.Option{
		workqueue.WithName("ipv6"),
		workqueue.WithLogger(logger),
	}
	if o.observer != nil {
		qopts = append(qopts, workqueue.WithObserver(o.observer))
	}
	a.queue = workqueue.New[string, request, string](a.allocate, qopts...)
	return a
}

// Owner returns the ledger key for cfg: the Matrix user, or the network's
// bot when the config has no user.
func Owner(cfg *irc.ClientConfig) string {
	if user := cfg.UserID(); user != "" {
		return string(user)
	}
	return "bot:" + cfg.Domain()
}

// Allocate assigns an address under prefix and stores it in cfg.
func (a *Allocator) Allocate(ctx context.Context, prefix string, cfg *irc.ClientConfig) error {
	req := request{prefix: prefix, owner: Owner(cfg)}

	addr, err := a.queue.Enqueue(req.prefix+"|"+req.owner, req).Wait(ctx)
	if err != nil {
		return fmt.Errorf("allocating address for %s: %w", req.owner, err)
	}
	cfg.SetIPv6Address(addr)
	return nil
}

// Release forgets the address assigned to cfg's owner under prefix.
func (a *Allocator) Release(ctx context.Context, prefix string, cfg *irc.ClientConfig) error {
	owner := Owner(cfg)
	if err := a.store.DeleteAssignment(ctx, prefix, owner); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("releasing address for %s: %w", owner, err)
	}
	cfg.SetIPv6Address("")
	return nil
}

// Assignments lists the addresses handed out under prefix.
func (a *Allocator) Assignments(ctx context.Context, prefix string) ([]*store.Assignment, error) {
	return a.store.ListAssignments(ctx, prefix)
}

// allocate is the queue's critical section.
func (a *Allocator) allocate(ctx context.Context, req request) (string, error) {
	existing, err := a.store.GetAssignment(ctx, req.prefix, req.owner)
	if err == nil {
		a.logger.Debug("reusing address", "owner", req.owner, "address", existing.Address)
		return existing.Address, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	for i := 0; i < maxCollisions; i++ {
		counter, err := a.store.NextCounter(ctx, req.prefix)
		if err != nil {
			return "", err
		}
		addr, err := AddressFor(req.prefix, counter)
		if err != nil {
			return "", err
		}

		err = a.store.SaveAssignment(ctx, &store.Assignment{
			Prefix:    req.prefix,
			Owner:     req.owner,
			Address:   addr.String(),
			Counter:   counter,
			CreatedAt: a.now(),
		})
		if errors.Is(err, store.ErrDuplicateAssignment) {
			a.logger.Warn("address already taken, trying next", "address", addr.String())
			continue
		}
		if err != nil {
			return "", err
		}

		a.logger.Info("allocated address", "owner", req.owner, "address", addr.String())
		return addr.String(), nil
	}
	return "", fmt.Errorf("no free address under %s after %d tries", req.prefix, maxCollisions)
}

// AddressFor returns the address numbered counter inside prefix. prefix is
// either CIDR notation or a bare address, which is treated as a /64.
func AddressFor(prefix string, counter uint64) (netip.Addr, error) {
	p, err := parsePrefix(prefix)
	if err != nil {
		return netip.Addr{}, err
	}

	hostBits := 128 - p.Bits()
	if hostBits < 64 && counter >= uint64(1)<<hostBits {
		return netip.Addr{}, fmt.Errorf("%w: %s cannot hold %d", ErrPrefixExhausted, prefix, counter)
	}

	b := p.Masked().Addr().As16()
	low := binary.BigEndian.Uint64(b[8:])
	binary.BigEndian.PutUint64(b[8:], low|counter)
	return netip.AddrFrom16(b), nil
}

func parsePrefix(prefix string) (netip.Prefix, error) {
	if strings.Contains(prefix, "/") {
		p, err := netip.ParsePrefix(prefix)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("parsing prefix %q: %w", prefix, err)
		}
		if !p.Addr().Is6() || p.Addr().Is4In6() {
			return netip.Prefix{}, fmt.Errorf("prefix %q is not IPv6", prefix)
		}
		if p.Bits() > 120 {
			return netip.Prefix{}, fmt.Errorf("prefix %q is too small", prefix)
		}
		return p, nil
	}

	addr, err := netip.ParseAddr(prefix)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parsing prefix %q: %w", prefix, err)
	}
	if !addr.Is6() || addr.Is4In6() {
		return netip.Prefix{}, fmt.Errorf("prefix %q is not IPv6", prefix)
	}
	return netip.PrefixFrom(addr, 64), nil
}
