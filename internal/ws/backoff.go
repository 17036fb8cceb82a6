package ws

import "time"

// Policy bounds automatic reconnection for one transport.
type Policy struct {
	Attempts       int           // reconnect attempts before giving up
	BaseDelay      time.Duration // delay before the first attempt
	MaxDelay       time.Duration // cap for the growing delay
	ConnectTimeout time.Duration // per-attempt dial + handshake timeout
}

// DefaultPolicy is 5 attempts, 1s growing to 5s, 10s connect timeout.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       5,
		BaseDelay:      time.Second,
		MaxDelay:       5 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Backoff returns a fresh Backoff for this policy.
func (p Policy) Backoff() *Backoff {
	return NewBackoff(p.BaseDelay, p.MaxDelay)
}

// Backoff yields exponentially growing, capped delays. The sequence never decreases.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

func (b *Backoff) Next() time.Duration {
	d := b.Max
	if b.attempt < 30 {
		d = b.Base << b.attempt
	}
	if d > b.Max {
		d = b.Max
	}
	b.attempt++
	return d
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
