// Package ratelimiter keeps a token bucket per key, e.g. per member or per
// client address.
package ratelimiter

import (
	"sync"
	"time"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// take refills the bucket for the time passed since it was last used and
// spends one token if there is one.
func (b *bucket) take(now time.Time, rate, capacity float64) bool {
	b.tokens += now.Sub(b.lastSeen).Seconds() * rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter allows rate requests per second per key with bursts of up to
// capacity. Keys idle for longer than idle are forgotten by Sweep.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64
	capacity float64
	idle     time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func New(rate, capacity float64, idle time.Duration) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		idle:     idle,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// PerMinute allows n requests a minute with bursts of n.
func PerMinute(n int) *Limiter {
	return New(float64(n)/60, float64(n), time.Hour)
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastSeen: now}
		l.buckets[key] = b
	}
	return b.take(now, l.rate, l.capacity)
}

// Sweep drops buckets unused for the idle period.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	dropped := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartSweeper runs Sweep every interval until Stop is called.
func (l *Limiter) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-l.stop:
				return
			}
		}
	}()
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
