package api

import (
	"time"
)

// messageBudget throttles the inbound messages of one websocket
// connection. Each message spends a token; tokens refill at rate per
// second up to burst. It is owned by the connection's read pump.
type messageBudget struct {
	rate    float64
	burst   float64
	tokens  float64
	last    time.Time
	now     func() time.Time
	dropped int
}

func newMessageBudget(rate float64, burst int, now func() time.Time) *messageBudget {
	if now == nil {
		now = time.Now
	}
	return &messageBudget{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   now(),
		now:    now,
	}
}

// Spend takes a token for one message. When none is left it returns how
// long until the next one refills.
func (b *messageBudget) Spend() (bool, time.Duration) {
	now := b.now()
	b.tokens = min(b.burst, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	b.dropped++
	if b.rate <= 0 {
		return false, 0
	}
	return false, time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}
