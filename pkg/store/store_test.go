package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPutGetRemove(t *testing.T) {
	m := NewMap[string, int](time.Minute)
	defer m.Stop()

	m.Put("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	m.Remove("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestMapExpiry(t *testing.T) {
	m := NewMap[string, string](50 * time.Millisecond)
	defer m.Stop()

	m.Put("k", "v")
	time.Sleep(120 * time.Millisecond)
	_, ok := m.Get("k")
	assert.False(t, ok)
}

func TestNonceSingleUse(t *testing.T) {
	ns := NewNonceService(time.Minute)
	defer ns.Stop()

	n := ns.New()
	require.NotEmpty(t, n)

	assert.True(t, ns.VerifyAndRemove(n))
	assert.False(t, ns.VerifyAndRemove(n))
	assert.False(t, ns.VerifyAndRemove(n))
}

func TestNonceUnknown(t *testing.T) {
	ns := NewNonceService(time.Minute)
	defer ns.Stop()
	assert.False(t, ns.VerifyAndRemove("never-issued"))
}

func TestNonceRecord(t *testing.T) {
	ns := NewNonceService(time.Minute)
	defer ns.Stop()

	ns.Record("n3")
	assert.True(t, ns.VerifyAndRemove("n3"))
	assert.False(t, ns.VerifyAndRemove("n3"))
}

func TestNonceConcurrentConsumeOnce(t *testing.T) {
	ns := NewNonceService(time.Minute)
	defer ns.Stop()

	n := ns.New()
	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ns.VerifyAndRemove(n) {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	// Exactly one goroutine may consume it; everyone else observes it as spent.
	assert.Equal(t, 1, count)
	assert.False(t, ns.VerifyAndRemove(n))
}
