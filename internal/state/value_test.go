package state_test

import (
	"testing"
	"time"

	"github.com/pamuduchat/syncshare/internal/state"
)

func TestValueGetSet(t *testing.T) {
	v := state.NewValue([]string{})
	if len(v.Get()) != 0 {
		t.Fatal("expected empty initial snapshot")
	}

	v.Set([]string{"a", "b"})
	if got := v.Get(); len(got) != 2 || got[1] != "b" {
		t.Errorf("unexpected snapshot %v", got)
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	v := state.NewValue(0)
	ch, unsubscribe := v.Subscribe()
	defer unsubscribe()

	if got := <-ch; got != 0 {
		t.Fatalf("expected initial 0, got %d", got)
	}

	// A slow reader skips intermediate values but ends on the latest.
	for i := 1; i <= 10; i++ {
		v.Set(i)
	}

	select {
	case got := <-ch:
		if got != 10 {
			t.Errorf("expected latest 10, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	v := state.NewValue("x")
	ch, unsubscribe := v.Subscribe()
	<-ch
	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	v.Set("y") // must not panic on a removed subscriber
}

func TestUpdate(t *testing.T) {
	v := state.NewValue(map[string]int{})
	v.Update(func(old map[string]int) map[string]int {
		next := make(map[string]int, len(old)+1)
		for k, n := range old {
			next[k] = n
		}
		next["a"] = 1
		return next
	})
	if v.Get()["a"] != 1 {
		t.Error("update not applied")
	}
}
