package web

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func decodeEvent(t *testing.T, msg string) StatusEvent {
	t.Helper()
	var evt StatusEvent
	if err := json.Unmarshal([]byte(msg), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return evt
}

func receive(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		return decodeEvent(t, msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
		return StatusEvent{}
	}
}

func drain(ch <-chan string) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewStatusBroadcaster()
	b.now = func() time.Time { return time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC) }
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("warn", "Offset (0.50000, 0.00000) failed")

	evt := receive(t, ch)
	want := StatusEvent{Time: "2026-10-18T21:00:00Z", Level: "warn", Msg: "Offset (0.50000, 0.00000) failed"}
	if evt != want {
		t.Errorf("event = %+v, want %+v", evt, want)
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Broadcast("info", "Attempt 1/4")

	for i, ch := range []<-chan string{ch1, ch2} {
		if evt := receive(t, ch); evt.Msg != "Attempt 1/4" {
			t.Errorf("subscriber %d: msg = %q", i, evt.Msg)
		}
	}
}

func TestBroadcaster_LateSubscriberGetsBacklog(t *testing.T) {
	b := NewStatusBroadcaster()
	for i := 1; i <= 3; i++ {
		b.Broadcast("info", fmt.Sprintf("Attempt %d/4", i))
	}

	ch, unsub := b.Subscribe()
	defer unsub()
	got := drain(ch)
	if len(got) != 3 {
		t.Fatalf("backlog = %d events, want 3", len(got))
	}
	for i, msg := range got {
		if evt := decodeEvent(t, msg); evt.Msg != fmt.Sprintf("Attempt %d/4", i+1) {
			t.Errorf("backlog[%d] = %q", i, evt.Msg)
		}
	}
}

func TestBroadcaster_BacklogIsBounded(t *testing.T) {
	b := NewStatusBroadcaster()
	for i := 0; i < backlogSize+10; i++ {
		b.Broadcast("info", fmt.Sprintf("line %d", i))
	}

	ch, unsub := b.Subscribe()
	defer unsub()
	got := drain(ch)
	if len(got) != backlogSize {
		t.Fatalf("backlog = %d events, want %d", len(got), backlogSize)
	}
	if evt := decodeEvent(t, got[0]); evt.Msg != "line 10" {
		t.Errorf("oldest kept = %q, want \"line 10\"", evt.Msg)
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	// Broadcasting with no subscribers left must not panic.
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer; i++ {
		b.Broadcast("info", "fill")
	}
	b.Broadcast("info", "overflow")

	if n := len(drain(ch)); n != subscriberBuffer {
		t.Errorf("expected %d buffered messages, got %d", subscriberBuffer, n)
	}
}

func TestBroadcastWriter_Write(t *testing.T) {
	cases := []struct {
		line  string
		level string
		msg   string
	}{
		{"[PointGo] 21:00:00 [INFO] Solver fields: 10 20 3 4\n", "info", "[PointGo] 21:00:00 [INFO] Solver fields: 10 20 3 4"},
		{"[PointGo] 21:00:01 [WARN] Offset (1, 0) failed\n", "warn", "[PointGo] 21:00:01 [WARN] Offset (1, 0) failed"},
		{"  [PointGo] 21:00:02 [ERROR] No offset succeeded  \n", "error", "[PointGo] 21:00:02 [ERROR] No offset succeeded"},
	}
	for _, tc := range cases {
		b := NewStatusBroadcaster()
		ch, unsub := b.Subscribe()

		n, err := BroadcastWriter(b).Write([]byte(tc.line))
		if err != nil || n != len(tc.line) {
			t.Fatalf("Write = %d, %v; want %d, nil", n, err, len(tc.line))
		}
		evt := receive(t, ch)
		if evt.Level != tc.level || evt.Msg != tc.msg {
			t.Errorf("event = %+v, want level %q msg %q", evt, tc.level, tc.msg)
		}
		unsub()
	}
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("   \n"))

	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLineLevel(t *testing.T) {
	cases := map[string]string{
		"2026/10/18 21:00:00 [ERROR] No offset succeeded": "error",
		"2026/10/18 21:00:00 [WARN] Offset 1 failed":      "warn",
		"2026/10/18 21:00:00 [LIVE] Attempt 1/4":          "info",
	}
	for line, want := range cases {
		if got := lineLevel(line); got != want {
			t.Errorf("lineLevel(%q) = %q, want %q", line, got, want)
		}
	}
}
