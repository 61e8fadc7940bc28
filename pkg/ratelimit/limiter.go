// Package ratelimit limita a vazão de sinks caros (ex.: email) com um token bucket.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter token bucket com reabastecimento contínuo
type Limiter struct {
	rate  float64 // tokens por segundo
	burst int

	mutex      sync.Mutex
	tokens     float64
	lastRefill time.Time
	stats      Stats

	now func() time.Time
}

// Stats estatísticas do limiter
type Stats struct {
	TotalRequests   int64 `json:"total_requests"`
	AllowedRequests int64 `json:"allowed_requests"`
	BlockedRequests int64 `json:"blocked_requests"`
}

// PerMinute cria um limiter de n eventos por minuto com burst n.
// n <= 0 retorna nil, que libera tudo.
func PerMinute(n int) *Limiter {
	if n <= 0 {
		return nil
	}
	return New(float64(n)/60, n)
}

// New cria um limiter com o bucket cheio
func New(ratePerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       ratePerSecond,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow consome um token se houver. Um Limiter nil sempre permite.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.stats.TotalRequests++

	// Refill tokens baseado no tempo decorrido
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now
	l.tokens = math.Min(l.tokens+elapsed*l.rate, float64(l.burst))

	if l.tokens >= 1 {
		l.tokens--
		l.stats.AllowedRequests++
		return true
	}

	l.stats.BlockedRequests++
	return false
}

// GetStats retorna uma cópia das estatísticas
func (l *Limiter) GetStats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.stats
}
