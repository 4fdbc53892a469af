package listener

import (
	"sync"
	"testing"
)

func TestRegistry_EmitOrder(t *testing.T) {
	r := New[string, int]()

	var got []string
	r.Add("data", func(v int) { got = append(got, "first") })
	r.Add("data", func(v int) { got = append(got, "second") })
	r.Add("other", func(v int) { got = append(got, "other") })

	r.Emit("data", 1)

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("expected [first second], got %v", got)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := New[string, int]()

	calls := 0
	id := r.Add("data", func(v int) { calls++ })

	if !r.Remove(id) {
		t.Error("expected Remove to report true")
	}
	if r.Remove(id) {
		t.Error("expected second Remove to report false")
	}

	r.Emit("data", 1)
	if calls != 0 {
		t.Errorf("expected 0 calls after remove, got %d", calls)
	}
	if r.Len("data") != 0 {
		t.Errorf("expected 0 handlers, got %d", r.Len("data"))
	}
}

func TestRegistry_RemoveMiddleKeepsOthers(t *testing.T) {
	r := New[string, int]()

	var got []int
	r.Add("data", func(v int) { got = append(got, 1) })
	mid := r.Add("data", func(v int) { got = append(got, 2) })
	r.Add("data", func(v int) { got = append(got, 3) })

	r.Remove(mid)
	r.Emit("data", 0)

	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("expected [1 3], got %v", got)
	}
}

func TestRegistry_HandlerMayRemoveItself(t *testing.T) {
	r := New[string, int]()

	var id ID
	calls := 0
	id = r.Add("data", func(v int) {
		calls++
		r.Remove(id)
	})

	r.Emit("data", 1)
	r.Emit("data", 2)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRegistry_TotalAndClear(t *testing.T) {
	r := New[string, int]()
	r.Add("a", func(int) {})
	r.Add("b", func(int) {})
	r.Add("b", func(int) {})

	if r.Total() != 3 {
		t.Errorf("expected 3 handlers, got %d", r.Total())
	}

	r.Clear()
	if r.Total() != 0 {
		t.Errorf("expected 0 handlers after clear, got %d", r.Total())
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[string, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Add("data", func(int) {})
			r.Emit("data", 1)
			r.Remove(id)
		}()
	}
	wg.Wait()

	if r.Total() != 0 {
		t.Errorf("expected 0 handlers, got %d", r.Total())
	}
}
