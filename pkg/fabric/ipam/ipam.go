// Package ipam records which host holds which address in each edge switch's
// subnet. Host addresses are fixed by host identity, so the allocator never
// picks an address: it reserves the derived one and refuses overlaps.
package ipam

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
)

var (
	// ErrUnknownPool is returned for a pool name that was never added.
	ErrUnknownPool = errors.New("unknown address pool")
	// ErrOutOfPool is returned for an address outside the pool's subnet or
	// equal to its network address.
	ErrOutOfPool = errors.New("address not usable in pool")
	// ErrConflict is returned when another host already holds the address.
	ErrConflict = errors.New("address already reserved")
)

// Pool is one edge switch's host subnet.
type Pool struct {
	Subnet   netip.Prefix
	Reserved map[string]netip.Addr // host name -> address
}

// Allocator holds reservations across named pools, one per edge switch.
type Allocator struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{pools: make(map[string]*Pool)}
}

// AddPool registers subnet under name, dropping any reservations an earlier
// pool of that name held.
func (a *Allocator) AddPool(name string, subnet netip.Prefix) error {
	if !subnet.IsValid() || !subnet.Addr().Is4() {
		return fmt.Errorf("pool %s: invalid IPv4 subnet %s", name, subnet)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pools[name] = &Pool{Subnet: subnet.Masked(), Reserved: make(map[string]netip.Addr)}
	return nil
}

// Reserve records ip for key in the named pool. Reserving the address a key
// already holds is a no-op.
func (a *Allocator) Reserve(pool, key string, ip netip.Addr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pools[pool]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownPool, pool)
	}
	if !p.Subnet.Contains(ip) || ip == p.Subnet.Addr() {
		return fmt.Errorf("%w: %s in %s", ErrOutOfPool, ip, p.Subnet)
	}
	for holder, held := range p.Reserved {
		if held == ip && holder != key {
			return fmt.Errorf("%w: %s held by %s", ErrConflict, ip, holder)
		}
	}
	p.Reserved[key] = ip
	return nil
}

// Release drops key's reservation and reports whether it had one.
func (a *Allocator) Release(pool, key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pools[pool]
	if !ok {
		return false
	}
	if _, held := p.Reserved[key]; !held {
		return false
	}
	delete(p.Reserved, key)
	return true
}

// Get returns the address key holds in pool.
func (a *Allocator) Get(pool, key string) (netip.Addr, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.pools[pool]
	if !ok {
		return netip.Addr{}, false
	}
	ip, ok := p.Reserved[key]
	return ip, ok
}

// PoolAllocations returns a copy of one pool's reservations as
// key -> address. ok is false for an unknown pool.
func (a *Allocator) PoolAllocations(pool string) (map[string]string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.pools[pool]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(p.Reserved))
	for k, ip := range p.Reserved {
		out[k] = ip.String()
	}
	return out, true
}

// AllAllocations returns every reservation across all pools as
// key -> address.
func (a *Allocator) AllAllocations() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range a.pools {
		for k, ip := range p.Reserved {
			out[k] = ip.String()
		}
	}
	return out
}

// PoolNames returns the registered pool names in sorted order.
func (a *Allocator) PoolNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.pools))
	for name := range a.pools {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// PoolForIP returns the pool whose subnet contains ip.
func (a *Allocator) PoolForIP(ip netip.Addr) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for name, p := range a.pools {
		if p.Subnet.Contains(ip) {
			return name, true
		}
	}
	return "", false
}
