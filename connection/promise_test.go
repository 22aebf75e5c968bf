package connection

import (
	"context"
	"errors"
	"testing"
	"time"
)

// waitForWaiters polls until the plugin has at least n parked waiters, or
// fails the test after d. Needed because a WaitFor* call only "counts" for
// overflow/dispatch purposes once it has actually parked, and that happens
// on a separate goroutine in these tests.
func waitForWaiters(t *testing.T, p *PromisePlugin, n int, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		count := len(p.waiters)
		p.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d parked waiter(s)", n)
}

type promiseResult struct {
	evt Event
	err error
}

func TestPromiseWaitForMessageReturnsDispatchedMessage(t *testing.T) {
	p := NewPromisePlugin(1)
	resultCh := make(chan promiseResult, 1)
	go func() {
		evt, err := p.WaitForMessage(context.Background())
		resultCh <- promiseResult{evt, err}
	}()
	waitForWaiters(t, p, 1, time.Second)

	p.TransformIncoming(TextMessage("hello"))

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("wait: %v", r.err)
		}
		if !r.evt.IsText || r.evt.Text != "hello" {
			t.Fatalf("got %+v", r.evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPromiseWaitForBinaryMessageRejectsText(t *testing.T) {
	p := NewPromisePlugin(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := p.WaitForBinaryMessage(context.Background())
		errCh <- err
	}()
	waitForWaiters(t, p, 1, time.Second)

	p.TransformIncoming(TextMessage("hello"))

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrUnexpectedMessageType) {
			t.Fatalf("got %v, want ErrUnexpectedMessageType", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPromiseWaitForJSONMessageDecodes(t *testing.T) {
	p := NewPromisePlugin(1)
	var target struct {
		Value int `json:"value"`
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.WaitForJSONMessage(context.Background(), &target)
	}()
	waitForWaiters(t, p, 1, time.Second)

	p.TransformIncoming(TextMessage(`{"value":42}`))

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if target.Value != 42 {
			t.Fatalf("value = %d, want 42", target.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPromiseWaitForJSONMessageWithTypeRejectsMismatch(t *testing.T) {
	p := NewPromisePlugin(1)
	var target commandEnvelope
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.WaitForJSONMessageWithType(context.Background(), "authentication_success", &target)
	}()
	waitForWaiters(t, p, 1, time.Second)

	p.TransformIncoming(TextMessage(`{"command":"register"}`))

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrUnexpectedMessageType) {
			t.Fatalf("got %v, want ErrUnexpectedMessageType", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPromiseWaitForJSONMessageWithTypeAccepts(t *testing.T) {
	p := NewPromisePlugin(1)
	var target commandEnvelope
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.WaitForJSONMessageWithType(context.Background(), "authentication_success", &target)
	}()
	waitForWaiters(t, p, 1, time.Second)

	p.TransformIncoming(TextMessage(`{"command":"authentication_success"}`))

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

// TestPromiseQueueOverflowFailsOldestWaiter is spec.md §8's literal boundary
// case: with queue bound 1, calling waitForMessage twice without an
// intervening arrival raises QueueOverflow - on the oldest (first) waiter,
// which is evicted to make room for the second.
func TestPromiseQueueOverflowFailsOldestWaiter(t *testing.T) {
	p := NewPromisePlugin(1)

	first := make(chan promiseResult, 1)
	go func() {
		evt, err := p.WaitForMessage(context.Background())
		first <- promiseResult{evt, err}
	}()
	waitForWaiters(t, p, 1, time.Second)

	second := make(chan promiseResult, 1)
	go func() {
		evt, err := p.WaitForMessage(context.Background())
		second <- promiseResult{evt, err}
	}()

	select {
	case r := <-first:
		if !errors.Is(r.err, ErrQueueOverflow) {
			t.Fatalf("oldest waiter got %v, want ErrQueueOverflow", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for oldest waiter to be evicted")
	}

	waitForWaiters(t, p, 1, time.Second)
	p.TransformIncoming(TextMessage("hello"))

	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("second waiter: %v", r.err)
		}
		if r.evt.Text != "hello" {
			t.Fatalf("got %q, want \"hello\"", r.evt.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second waiter")
	}
}

func TestPromiseWaitForMessageTimesOut(t *testing.T) {
	p := NewPromisePlugin(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := p.WaitForMessage(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestPromiseWaitForMessageReturnsClosed(t *testing.T) {
	p := NewPromisePlugin(1)
	p.TransformIncoming(ClosedEvent(CloseReasonNoListenerForTarget, CloseOriginRemote))

	if _, err := p.WaitForMessage(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("got %v, want ErrConnectionClosed", err)
	}
}
