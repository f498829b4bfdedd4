package stash

import "testing"

func TestAddGetRemove(t *testing.T) {
	s := New[string]()
	h1 := s.Add("a")
	h2 := s.Add("b")

	if got := *s.Get(h1); got != "a" {
		t.Errorf("Get(h1) = %q, want %q", got, "a")
	}
	if got := *s.Get(h2); got != "b" {
		t.Errorf("Get(h2) = %q, want %q", got, "b")
	}
	if got, want := s.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	s.Remove(h1)
	if got, want := s.Len(), 1; got != want {
		t.Fatalf("Len() after Remove = %d, want %d", got, want)
	}
}

func TestRemovedSlotIsReusedWithNewGeneration(t *testing.T) {
	s := New[int]()
	h1 := s.Add(1)
	s.Remove(h1)
	h2 := s.Add(2)

	if h1.index != h2.index {
		t.Fatalf("expected the removed slot to be reused, h1.index=%d h2.index=%d", h1.index, h2.index)
	}
	if h1.generation == h2.generation {
		t.Fatal("expected the reused slot to carry a new generation")
	}
	if got := *s.Get(h2); got != 2 {
		t.Errorf("Get(h2) = %d, want %d", got, 2)
	}
}

func TestGetPanicsOnStaleHandle(t *testing.T) {
	s := New[int]()
	h1 := s.Add(1)
	s.Remove(h1)
	s.Add(2) // reuses h1's slot with a bumped generation

	defer func() {
		if recover() == nil {
			t.Fatal("expected Get on a stale handle to panic")
		}
	}()
	s.Get(h1)
}

func TestGetPanicsOnOutOfRangeHandle(t *testing.T) {
	s := New[int]()
	defer func() {
		if recover() == nil {
			t.Fatal("expected Get on a never-issued handle to panic")
		}
	}()
	s.Get(Handle{index: 7})
}

func TestEachVisitsOnlyLiveEntries(t *testing.T) {
	s := New[int]()
	h1 := s.Add(1)
	s.Add(2)
	h3 := s.Add(3)
	s.Remove(h1)

	seen := map[int]bool{}
	s.Each(func(h Handle, v *int) {
		seen[*v] = true
	})

	if seen[1] {
		t.Error("removed entry should not be visited")
	}
	if !seen[2] || !seen[3] {
		t.Errorf("expected both live entries visited, got %v", seen)
	}
	_ = h3
}
