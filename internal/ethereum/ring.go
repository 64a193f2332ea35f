package ethereum

import (
	"sync"
	"time"
)

// TrafficDirection marks which way a captured frame travelled.
type TrafficDirection string

// Frame directions.
const (
	TrafficInbound  TrafficDirection = "in"
	TrafficOutbound TrafficDirection = "out"
)

// TrafficSample is one captured raw frame.
type TrafficSample struct {
	Direction  TrafficDirection
	Method     string // JSON-RPC method or subscription kind, best effort
	Payload    []byte
	CapturedAt time.Time
}

// TrafficRing is a bounded buffer of raw request/response frames kept
// for diagnostics. Append is cheap and never blocks message processing;
// the oldest frame is overwritten once the buffer is full. A nil ring
// is valid and drops everything.
type TrafficRing struct {
	mu      sync.Mutex
	samples []TrafficSample
	next    int
	filled  bool
}

// NewTrafficRing creates a ring holding up to size frames.
func NewTrafficRing(size int) *TrafficRing {
	if size <= 0 {
		size = 256
	}
	return &TrafficRing{samples: make([]TrafficSample, size)}
}

// Append records one frame, overwriting the oldest when full.
func (r *TrafficRing) Append(dir TrafficDirection, method string, payload []byte) {
	if r == nil {
		return
	}

	// Copy: callers reuse their buffers.
	p := make([]byte, len(payload))
	copy(p, payload)

	r.mu.Lock()
	r.samples[r.next] = TrafficSample{
		Direction:  dir,
		Method:     method,
		Payload:    p,
		CapturedAt: time.Now(),
	}
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.filled = true
	}
	r.mu.Unlock()
}

// Snapshot returns the captured frames oldest-first.
func (r *TrafficRing) Snapshot() []TrafficSample {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		out := make([]TrafficSample, r.next)
		copy(out, r.samples[:r.next])
		return out
	}

	out := make([]TrafficSample, 0, len(r.samples))
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

// Len returns the number of captured frames.
func (r *TrafficRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filled {
		return len(r.samples)
	}
	return r.next
}
