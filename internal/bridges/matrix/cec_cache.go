package matrix

import (
	"sync"
	"time"
)

// DefaultCECCacheTTL is how long a refreshed CEC enable bitmap is trusted.
const DefaultCECCacheTTL = 300 * time.Second

// CECCache holds the device's CEC enable bits for all 16 ports.
//
// It is the only client-side copy of the enable state. A cache that has never
// been refreshed, or whose refresh is older than the TTL, is stale and must
// be reloaded from the device before its bits are used to build a write.
//
// Individual reads and writes are serialised; sequences of calls are not.
type CECCache struct {
	mu          sync.Mutex
	inputs      [PortCount]bool
	outputs     [PortCount]bool
	lastUpdated time.Time
	ttl         time.Duration
	now         func() time.Time
}

// NewCECCache creates an empty (stale) cache.
func NewCECCache(ttl time.Duration) *CECCache {
	if ttl <= 0 {
		ttl = DefaultCECCacheTTL
	}
	return &CECCache{ttl: ttl, now: time.Now}
}

// Fresh reports whether the cache was refreshed within the TTL.
func (c *CECCache) Fresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastUpdated.IsZero() && c.now().Sub(c.lastUpdated) < c.ttl
}

// LastUpdated returns the time of the last refresh from the device.
func (c *CECCache) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// Update replaces both bitmaps with device truth and restarts the TTL.
func (c *CECCache) Update(inputs, outputs [PortCount]bool) {
	c.mu.Lock()
	c.inputs = inputs
	c.outputs = outputs
	c.lastUpdated = c.now()
	c.mu.Unlock()
}

// Invalidate marks the cache stale without touching the bits.
func (c *CECCache) Invalidate() {
	c.mu.Lock()
	c.lastUpdated = time.Time{}
	c.mu.Unlock()
}

// Enabled returns the cached bit for a port.
func (c *CECCache) Enabled(port int, isOutput bool) bool {
	if !ValidPort(port) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if isOutput {
		return c.outputs[port-1]
	}
	return c.inputs[port-1]
}

// Snapshot returns copies of both bitmaps.
func (c *CECCache) Snapshot() (inputs, outputs [PortCount]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs, c.outputs
}

// WithPort returns the cached bitmaps with exactly one bit set to enabled.
// The cache itself is not modified.
func (c *CECCache) WithPort(port int, isOutput, enabled bool) (inputs, outputs [PortCount]bool) {
	inputs, outputs = c.Snapshot()
	if !ValidPort(port) {
		return inputs, outputs
	}
	if isOutput {
		outputs[port-1] = enabled
	} else {
		inputs[port-1] = enabled
	}
	return inputs, outputs
}

// SetPort sets one bit after a successful write. lastUpdated is left alone
// so the next TTL expiry still reloads device truth.
func (c *CECCache) SetPort(port int, isOutput, enabled bool) {
	if !ValidPort(port) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if isOutput {
		c.outputs[port-1] = enabled
	} else {
		c.inputs[port-1] = enabled
	}
}

// bitsToInts converts a bitmap to the device's 0/1 array form.
func bitsToInts(bits [PortCount]bool) []int {
	out := make([]int, PortCount)
	for i, b := range bits {
		if b {
			out[i] = 1
		}
	}
	return out
}

// intsToBits converts the device's 0/1 array form to a bitmap.
// Missing trailing entries read as disabled.
func intsToBits(vals []int) [PortCount]bool {
	var out [PortCount]bool
	for i := 0; i < PortCount && i < len(vals); i++ {
		out[i] = vals[i] != 0
	}
	return out
}
