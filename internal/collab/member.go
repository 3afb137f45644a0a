package collab

import (
	"time"

	"golang.org/x/time/rate"
)

// opRateLimit/opRateBurst bound how many operations a single connection can
// submit per second, independent of the chat service's own limiter - this
// guards the OT dispatcher itself against a runaway or malicious client
// flooding the single-writer inbox (spec.md doesn't name a figure here; the
// pack's gateways all guard their hot loop the same way, so SPEC_FULL.md §3
// wires golang.org/x/time/rate for it).
const (
	opRateLimit = 50
	opRateBurst = 100
)

// colorPalette assigns a stable, visually distinct color to each member on
// join (spec.md §3).
var colorPalette = []string{
	"#e06c75", "#98c379", "#e5c07b", "#61afef",
	"#c678dd", "#56b6c2", "#d19a66", "#be5046",
}

// Member is a participant in a live DocumentSession, keyed by connection id.
// Only the session dispatcher goroutine reads or writes a Member's fields
// after construction; outbox/closeSignal are the one exception, read by the
// connection's writer pump (internal/websocket).
type Member struct {
	ConnID      string
	UserID      string
	DisplayName string
	Color       string
	Access      Access

	Cursor    *CursorPos
	Selection *SelectionRange

	LastClientVersion int
	LastActivity      time.Time
	Away              bool

	opLimiter *rate.Limiter

	outbox      chan []byte
	closeSignal chan int
}

// NewMember constructs a Member ready to hand to Hub.Attach. Color is
// assigned by the session on join, from the palette slot matching the
// number of members already present in that document (matches the
// teacher's fixed-palette join behavior).
func NewMember(connID, userID, displayName string, access Access, outboxSize int) *Member {
	return &Member{
		ConnID:       connID,
		UserID:       userID,
		DisplayName:  displayName,
		Access:       access,
		LastActivity: time.Now(),
		opLimiter:    rate.NewLimiter(rate.Limit(opRateLimit), opRateBurst),
		outbox:       make(chan []byte, outboxSize),
		closeSignal:  make(chan int, 1),
	}
}

// CanWrite reports whether this member is allowed to mutate the document.
func (m *Member) CanWrite() bool {
	return m.Access == AccessEdit
}

// Outbox is drained by the connection's writer pump.
func (m *Member) Outbox() <-chan []byte {
	return m.outbox
}

// CloseSignal carries the WebSocket close code the writer pump should use
// when the session evicts this member (slow consumer, idle timeout, or
// shutdown).
func (m *Member) CloseSignal() <-chan int {
	return m.closeSignal
}
