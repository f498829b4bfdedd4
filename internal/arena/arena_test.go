package arena

import "testing"

func TestAddCommitGet(t *testing.T) {
	b := NewBuffer[string](0)
	off := b.Add("hello")
	b.Commit()
	if got := *b.Get(off); got != "hello" {
		t.Errorf("Get(%d) = %q, want %q", off, got, "hello")
	}
	if got, want := b.Len(), 1; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestRollbackDiscardsLastAppend(t *testing.T) {
	b := NewBuffer[int](0)
	b.Add(1)
	b.Commit()
	b.Add(2)
	b.Rollback()
	if got, want := b.Len(), 1; got != want {
		t.Fatalf("Len() after rollback = %d, want %d", got, want)
	}
	if got := *b.Get(0); got != 1 {
		t.Errorf("surviving entry = %d, want %d", got, 1)
	}
}

func TestAddPanicsWithPendingAppend(t *testing.T) {
	b := NewBuffer[int](0)
	b.Add(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Add to panic with an uncommitted append pending")
		}
	}()
	b.Add(2)
}

type recordingListener struct {
	moves [][2]Offset
}

func (l *recordingListener) MovingInBuffer(oldOffset, newOffset Offset) {
	l.moves = append(l.moves, [2]Offset{oldOffset, newOffset})
}

func TestPurgeRemovedCompactsAndNotifies(t *testing.T) {
	b := NewBuffer[string](0)
	for _, v := range []string{"a", "b", "c", "d"} {
		b.Add(v)
		b.Commit()
	}
	b.MarkRemoved(0)
	b.MarkRemoved(2)

	l := &recordingListener{}
	b.PurgeRemoved(l)

	if got, want := b.Len(), 2; got != want {
		t.Fatalf("Len() after purge = %d, want %d", got, want)
	}
	if got := *b.Get(0); got != "b" {
		t.Errorf("entry 0 after purge = %q, want %q", got, "b")
	}
	if got := *b.Get(1); got != "d" {
		t.Errorf("entry 1 after purge = %q, want %q", got, "d")
	}

	wantMoves := [][2]Offset{{1, 0}, {3, 1}}
	if len(l.moves) != len(wantMoves) {
		t.Fatalf("moves = %v, want %v", l.moves, wantMoves)
	}
	for i, m := range wantMoves {
		if l.moves[i] != m {
			t.Errorf("move %d = %v, want %v", i, l.moves[i], m)
		}
	}
}

func TestIsRemoved(t *testing.T) {
	b := NewBuffer[int](0)
	off := b.Add(42)
	b.Commit()
	if b.IsRemoved(off) {
		t.Error("freshly committed entry should not be removed")
	}
	b.MarkRemoved(off)
	if !b.IsRemoved(off) {
		t.Error("expected entry to be marked removed")
	}
}
