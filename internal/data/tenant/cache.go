package tenant

import "sync"

// Cache is the process-wide set of tenants whose table sets are known to
// exist. It is advisory: losing it (restart) only costs one extra idempotent
// provisioning pass per tenant, and two goroutines racing on a brand-new
// tenant both succeed because the underlying DDL is create-if-missing.
type Cache struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewCache() *Cache {
	return &Cache{seen: make(map[string]struct{})}
}

func (c *Cache) Provisioned(tenantCode string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.seen[tenantCode]
	return ok
}

func (c *Cache) MarkProvisioned(tenantCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[tenantCode] = struct{}{}
}

// Forget drops a tenant from the cache so the next reference re-runs the
// provisioning pass. The provisioner itself never needs it (a failed pass
// is simply never marked); it exists for operators evicting a tenant whose
// tables were changed outside this process.
func (c *Cache) Forget(tenantCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, tenantCode)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}
