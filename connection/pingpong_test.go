package connection

import (
	"strings"
	"testing"
	"time"
)

func TestPingPongActiveSendsPingAfterPeriod(t *testing.T) {
	plugin := NewPingPongPlugin(PingPongActive, 10*time.Millisecond, 5*time.Millisecond)
	emitter := &fakeEmitter{}
	plugin.Attach(emitter)
	defer plugin.Detach()

	deadline := time.After(200 * time.Millisecond)
	for {
		if containsCommand(emitter.outgoingSnapshot(), PingCommand) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("active side never sent a comm_ping")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPingPongPassiveAnswersPing(t *testing.T) {
	plugin := NewPingPongPlugin(PingPongPassive, 50*time.Millisecond, 5*time.Millisecond)
	emitter := &fakeEmitter{}
	plugin.Attach(emitter)
	defer plugin.Detach()

	_, ok := plugin.TransformIncoming(TextMessage(PingFrame))
	if ok {
		t.Fatal("comm_ping must not surface upstream")
	}
	if !containsCommand(emitter.outgoingSnapshot(), PongCommand) {
		t.Fatal("passive side must answer comm_ping with comm_pong")
	}
}

func TestPingPongActiveTimesOutWithoutPong(t *testing.T) {
	plugin := NewPingPongPlugin(PingPongActive, 10*time.Millisecond, 5*time.Millisecond)
	closed := make(chan string, 1)
	emitter := &fakeEmitter{onClose: func(reason string) { closed <- reason }}
	plugin.Attach(emitter)
	defer plugin.Detach()

	select {
	case reason := <-closed:
		if reason != CloseReasonPingPongTimeout {
			t.Fatalf("close reason = %q, want %q", reason, CloseReasonPingPongTimeout)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("active side never timed out waiting for comm_pong")
	}
}

func TestPingPongActiveTimeoutResetByPong(t *testing.T) {
	plugin := NewPingPongPlugin(PingPongActive, 20*time.Millisecond, 10*time.Millisecond)
	closed := make(chan string, 1)
	emitter := &fakeEmitter{onClose: func(reason string) { closed <- reason }}
	plugin.Attach(emitter)
	defer plugin.Detach()

	// A pong arriving well inside the timeout window must push it back out.
	time.Sleep(15 * time.Millisecond)
	if _, ok := plugin.TransformIncoming(TextMessage(PongFrame)); ok {
		t.Fatal("comm_pong must not surface upstream")
	}

	select {
	case reason := <-closed:
		t.Fatalf("did not expect a timeout, got close reason %q", reason)
	case <-time.After(15 * time.Millisecond):
	}
}

func TestPingPongPassiveTimesOutWithoutPing(t *testing.T) {
	plugin := NewPingPongPlugin(PingPongPassive, 10*time.Millisecond, 5*time.Millisecond)
	closed := make(chan string, 1)
	emitter := &fakeEmitter{onClose: func(reason string) { closed <- reason }}
	plugin.Attach(emitter)
	defer plugin.Detach()

	select {
	case reason := <-closed:
		if reason != CloseReasonPingPongTimeout {
			t.Fatalf("close reason = %q, want %q", reason, CloseReasonPingPongTimeout)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("passive side never timed out waiting for comm_ping")
	}
}

func TestPingPongNonCommandMessagePassesThrough(t *testing.T) {
	plugin := NewPingPongPlugin(PingPongPassive, time.Second, time.Millisecond)
	plugin.Attach(&fakeEmitter{})
	defer plugin.Detach()

	evt, ok := plugin.TransformIncoming(TextMessage(`{"hello":"world"}`))
	if !ok || evt.Text != `{"hello":"world"}` {
		t.Fatalf("non-command message must pass through unchanged, got %+v, ok=%v", evt, ok)
	}
}

// TestPingPongNonCommandMessageResetsWatchdog is spec.md §4.3's "on every
// incoming frame, both timers reset": ordinary application traffic with no
// ping/pong frames in it must still hold the timeout open, not just pass
// through inertly.
func TestPingPongNonCommandMessageResetsWatchdog(t *testing.T) {
	plugin := NewPingPongPlugin(PingPongActive, 30*time.Millisecond, 20*time.Millisecond)
	closed := make(chan string, 1)
	emitter := &fakeEmitter{onClose: func(reason string) { closed <- reason }}
	plugin.Attach(emitter)
	defer plugin.Detach()

	// The timeout window is period+RTT = 50ms; feed ordinary frames every
	// 15ms for 150ms, well past where an un-reset timer would have fired.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := plugin.TransformIncoming(TextMessage(`{"hello":"world"}`)); !ok {
			t.Fatal("non-command message must still pass through unchanged")
		}
		time.Sleep(15 * time.Millisecond)
	}

	select {
	case reason := <-closed:
		t.Fatalf("did not expect a timeout while frames were arriving, got close reason %q", reason)
	default:
	}
}

func containsCommand(events []Event, command string) bool {
	for _, evt := range events {
		if evt.IsText && strings.Contains(evt.Text, command) {
			return true
		}
	}
	return false
}
