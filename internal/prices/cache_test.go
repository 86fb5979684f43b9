package prices

import (
	"sync"
	"testing"
	"time"
)

func TestGetUnknownSymbol(t *testing.T) {
	c := NewCache()
	if _, _, ok := c.Get("BTCUSDT"); ok {
		t.Fatal("an unpriced symbol must report not ok")
	}
}

func TestSetAndGet(t *testing.T) {
	c := NewCache()
	c.Set("BTCUSDT", 42000.5)

	price, age, ok := c.Get("BTCUSDT")
	if !ok {
		t.Fatal("expected a cached price")
	}
	if price != 42000.5 {
		t.Fatalf("price: got %v, want 42000.5", price)
	}
	if age < 0 || age > time.Second {
		t.Fatalf("age out of range: %v", age)
	}

	c.Set("BTCUSDT", 42001)
	price, _, _ = c.Get("BTCUSDT")
	if price != 42001 {
		t.Fatalf("latest write must win, got %v", price)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Set("ETHUSDT", float64(i))
		}(i)
		go func() {
			defer wg.Done()
			c.Get("ETHUSDT")
		}()
	}
	wg.Wait()

	price, _, ok := c.Get("ETHUSDT")
	if !ok || price < 0 || price > 49 {
		t.Fatalf("unexpected final state: %v %v", price, ok)
	}
}
