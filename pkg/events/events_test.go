package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	a, unsubA := b.Subscribe()
	defer unsubA()
	c, unsubC := b.Subscribe()
	defer unsubC()

	b.Publish(RequestCreated, map[string]any{"id": "r1", "status": "running"})

	for _, ch := range []<-chan Event{a, c} {
		ev := receive(t, ch)
		assert.Equal(t, RequestCreated, ev.Type)
		assert.Equal(t, "r1", ev.Payload["id"])
		assert.False(t, ev.Time.IsZero())
	}
}

func TestBus_NoReplay(t *testing.T) {
	b := NewBus()
	b.Publish(RequestCreated, map[string]any{"id": "early"})

	ch, unsub := b.Subscribe()
	defer unsub()
	b.Publish(RequestUpdated, map[string]any{"id": "late"})

	ev := receive(t, ch)
	assert.Equal(t, "late", ev.Payload["id"])
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	slow, unsubSlow := b.Subscribe()
	defer unsubSlow()
	fast, unsubFast := b.Subscribe()
	defer unsubFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriberBuf*3; i++ {
			b.Publish(ConnectionUpdated, map[string]any{"n": i})
		}
		close(done)
	}()

	received := 0
	for received < defaultSubscriberBuf*3 {
		select {
		case <-fast:
			received++
		case <-done:
			received = defaultSubscriberBuf * 3
		case <-time.After(2 * time.Second):
			t.Fatal("publisher blocked")
		}
	}
	<-done
	assert.Len(t, slow, defaultSubscriberBuf, "slow subscriber keeps only what fit in its buffer")
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	unsub()
	unsub()
	assert.Equal(t, 0, b.Subscribers())

	_, open := <-ch
	assert.False(t, open)
	b.Publish(RequestCreated, nil)
}

func TestFilter(t *testing.T) {
	f, err := CompileFilter(`type startsWith "tcp_connection" && status == "closed"`)
	require.NoError(t, err)

	assert.True(t, f.Match(Event{Type: ConnectionClosed, Payload: map[string]any{"status": "closed"}}))
	assert.False(t, f.Match(Event{Type: ConnectionUpdated, Payload: map[string]any{"status": "active"}}))
	assert.False(t, f.Match(Event{Type: RequestUpdated, Payload: map[string]any{"status": "closed"}}))
}

func TestFilter_PayloadAccess(t *testing.T) {
	f, err := CompileFilter(`payload.method == "POST"`)
	require.NoError(t, err)
	assert.True(t, f.Match(Event{Type: RequestCreated, Payload: map[string]any{"method": "POST"}}))
	assert.False(t, f.Match(Event{Type: RequestCreated, Payload: map[string]any{}}))
}

func TestFilter_EmptyMatchesAll(t *testing.T) {
	f, err := CompileFilter("  ")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(Event{Type: "anything"}))
}

func TestFilter_CompileError(t *testing.T) {
	_, err := CompileFilter(`type ==`)
	assert.Error(t, err)

	_, err = CompileFilter(`1 + 1`)
	assert.Error(t, err, "non-boolean expressions are rejected")
}
