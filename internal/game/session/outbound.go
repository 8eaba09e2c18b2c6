// Package session provides the authoritative registry of connected
// players and the per-player outbound delivery queues.
package session

import (
	"fmt"
	"sync"
)

// Outbound is the buffered send queue for one player's connection.
// The registry pushes encoded frames synchronously; the connection's
// write goroutine drains Frames asynchronously, so one stalled receiver
// never blocks a broadcast to the others.
type Outbound struct {
	playerID uint32
	frames   chan []byte
	mu       sync.Mutex
	closed   bool
}

// NewOutbound creates an Outbound queue for the given player.
//
// Precondition: bufferSize should be positive; non-positive values fall
// back to a default of 64 frames.
// Postcondition: Returns an Outbound with an open frames channel.
func NewOutbound(playerID uint32, bufferSize int) *Outbound {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbound{
		playerID: playerID,
		frames:   make(chan []byte, bufferSize),
	}
}

// PlayerID returns the owning player's identity.
func (o *Outbound) PlayerID() uint32 {
	return o.playerID
}

// Push enqueues a frame for delivery without blocking.
//
// Postcondition: The frame is queued, or an error if the queue is
// closed or full. A full queue means the receiver has stalled; the
// frame is dropped rather than blocking the caller.
func (o *Outbound) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbound queue for player %d is closed", o.playerID)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("outbound queue for player %d is full", o.playerID)
	}
}

// Frames returns the read-only delivery channel. The connection's write
// goroutine ranges over this channel until it is closed.
func (o *Outbound) Frames() <-chan []byte {
	return o.frames
}

// Close marks the queue closed and closes the frames channel. Safe to
// call more than once.
//
// Postcondition: Further Push calls return an error.
func (o *Outbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether the queue has been closed.
func (o *Outbound) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
