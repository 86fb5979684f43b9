package prices

import (
	"sync"
	"time"
)

// Cache is a read-mostly store of last-known prices per symbol. The gateway
// listener and the signal loop write; the SL/TP monitor and risk gate read.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]entry
}

type entry struct {
	price float64
	at    time.Time
}

// NewCache creates an empty price cache.
func NewCache() *Cache {
	return &Cache{prices: make(map[string]entry)}
}

// Set records the latest price for symbol.
func (c *Cache) Set(symbol string, price float64) {
	c.mu.Lock()
	c.prices[symbol] = entry{price: price, at: time.Now()}
	c.mu.Unlock()
}

// Get returns the last-known price and its age, or false if the symbol has
// never been priced.
func (c *Cache) Get(symbol string) (price float64, age time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[symbol]
	if !ok {
		return 0, 0, false
	}
	return e.price, time.Since(e.at), true
}
