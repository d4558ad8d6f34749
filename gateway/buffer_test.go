package gateway

import (
	"fmt"
	"sync"
	"testing"
)

func msg(body string) InboundMessage {
	return InboundMessage{ID: "msg_" + body, From: "123@s.whatsapp.net", Body: body}
}

func TestBufferUnderCapacity(t *testing.T) {
	b := NewBuffer(5)
	b.Push(msg("a"))
	b.Push(msg("b"))
	b.Push(msg("c"))

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	got := b.Snapshot(0)
	want := []string{"c", "b", "a"}
	for i, w := range want {
		if got[i].Body != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Body, w)
		}
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewBuffer(2)
	b.Push(msg("a"))
	b.Push(msg("b"))
	b.Push(msg("c"))

	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	got := b.Snapshot(0)
	if got[0].Body != "c" || got[1].Body != "b" {
		t.Errorf("snapshot = [%s %s], want [c b]", got[0].Body, got[1].Body)
	}
}

func TestBufferOverwriteMany(t *testing.T) {
	const capacity = 50
	b := NewBuffer(capacity)
	for i := 0; i < 137; i++ {
		b.Push(msg(fmt.Sprintf("%d", i)))
	}

	if b.Len() != capacity {
		t.Fatalf("Len = %d, want %d", b.Len(), capacity)
	}
	got := b.Snapshot(0)
	// Newest first: 136, 135, ... down to 87.
	for i, m := range got {
		if want := fmt.Sprintf("%d", 136-i); m.Body != want {
			t.Fatalf("got[%d] = %q, want %q", i, m.Body, want)
		}
	}
}

func TestBufferSnapshotLimit(t *testing.T) {
	b := NewBuffer(10)
	for i := 0; i < 5; i++ {
		b.Push(msg(fmt.Sprintf("%d", i)))
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 5},
		{-1, 5},
		{3, 3},
		{5, 5},
		{100, 5},
	}
	for _, tt := range tests {
		if got := len(b.Snapshot(tt.limit)); got != tt.want {
			t.Errorf("Snapshot(%d) len = %d, want %d", tt.limit, got, tt.want)
		}
	}

	got := b.Snapshot(2)
	if got[0].Body != "4" || got[1].Body != "3" {
		t.Errorf("Snapshot(2) = [%s %s], want [4 3]", got[0].Body, got[1].Body)
	}
}

func TestBufferClampsCapacity(t *testing.T) {
	b := NewBuffer(0)
	b.Push(msg("a"))
	b.Push(msg("b"))
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
	if got := b.Snapshot(0); got[0].Body != "b" {
		t.Errorf("kept %q, want b", got[0].Body)
	}
}

func TestBufferConcurrentPush(t *testing.T) {
	b := NewBuffer(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Push(msg(fmt.Sprintf("%d-%d", i, j)))
			}
		}(i)
	}
	wg.Wait()

	if b.Len() != 50 {
		t.Fatalf("Len = %d, want 50", b.Len())
	}
	if got := len(b.Snapshot(0)); got != 50 {
		t.Fatalf("snapshot len = %d, want 50", got)
	}
}
