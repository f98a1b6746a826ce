// ABOUTME: Bloom filter over recorded target keys
// ABOUTME: Lets target lookups skip the store for targets never scanned

package history

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	defaultExpectedTargets   = 100_000
	defaultFalsePositiveRate = 0.01
)

// targetFilter is safe for concurrent use. Rebuild swaps in a fresh filter.
type targetFilter struct {
	filter atomic.Pointer[bloom.BloomFilter]
	mu     sync.RWMutex
	n      uint
	fp     float64
}

func newTargetFilter(expected uint) *targetFilter {
	if expected == 0 {
		expected = defaultExpectedTargets
	}
	tf := &targetFilter{n: expected, fp: defaultFalsePositiveRate}
	tf.filter.Store(bloom.NewWithEstimates(tf.n, tf.fp))
	return tf
}

func (tf *targetFilter) Add(key string) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.filter.Load().AddString(key)
}

// MayContain reports false only when key was definitely never added.
func (tf *targetFilter) MayContain(key string) bool {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	return tf.filter.Load().TestString(key)
}

// Rebuild replaces the filter with one holding exactly keys.
func (tf *targetFilter) Rebuild(keys []string) {
	f := bloom.NewWithEstimates(max(tf.n, uint(len(keys))), tf.fp)
	for _, k := range keys {
		f.AddString(k)
	}
	tf.mu.Lock()
	tf.filter.Store(f)
	tf.mu.Unlock()
}
