package helper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

// GivenUniqueName returns a name that no other test uses, to keep streams and groups apart.
func GivenUniqueName(t testing.TB, prefix string) string {
	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return prefix + "-" + id.String()
}

// RecordingHandler is a jstreams.Handler that remembers every message and can be told to fail or panic.
type RecordingHandler struct {
	mu       sync.Mutex
	messages []jstreams.Message
	received chan jstreams.Message
	failWith error
	panicMsg any
}

// NewRecordingHandler creates a RecordingHandler whose Received channel buffers up to buffer messages.
func NewRecordingHandler(buffer int) *RecordingHandler {
	return &RecordingHandler{received: make(chan jstreams.Message, buffer)}
}

// FailWith makes every following call return err.
func (h *RecordingHandler) FailWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failWith = err
}

// PanicWith makes every following call panic with v.
func (h *RecordingHandler) PanicWith(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panicMsg = v
}

// Handle implements jstreams.Handler.
func (h *RecordingHandler) Handle(_ context.Context, msg jstreams.Message) error {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	failWith, panicMsg := h.failWith, h.panicMsg
	h.mu.Unlock()

	select {
	case h.received <- msg:
	default:
	}

	if panicMsg != nil {
		panic(panicMsg)
	}

	return failWith
}

// Received returns the channel every handled message is sent to.
func (h *RecordingHandler) Received() <-chan jstreams.Message {
	return h.received
}

// Messages returns a copy of all handled messages.
func (h *RecordingHandler) Messages() []jstreams.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]jstreams.Message{}, h.messages...)
}

// WaitForMessage returns the next handled message or fails the test after timeout.
func (h *RecordingHandler) WaitForMessage(t testing.TB, timeout time.Duration) jstreams.Message {
	t.Helper()

	select {
	case msg := <-h.received:
		return msg
	case <-time.After(timeout):
		require.FailNow(t, "no message was handled in time", "waited %s", timeout)
		return jstreams.Message{}
	}
}

// WaitForShutdownWithin runs WaitForShutdown and fails the test if it does not return within timeout.
func WaitForShutdownWithin(t testing.TB, c *jstreams.Context, timeout time.Duration) error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- c.WaitForShutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		require.FailNow(t, "workers did not exit in time", "waited %s", timeout)
		return nil
	}
}
