package errlog_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/torosent/crankqueue/internal/errlog"
)

func TestCursorReturnsOnlyNewEntries(t *testing.T) {
	log := errlog.New()
	cur := log.NewCursor()

	log.Append("kafka", errors.New("first"))
	log.Append("kafka", errors.New("second"))

	got := cur.Next()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Error != "first" || got[1].Error != "second" {
		t.Errorf("entries out of order: %+v", got)
	}

	if again := cur.Next(); len(again) != 0 {
		t.Fatalf("expected no entries on second read, got %d", len(again))
	}

	log.Append("sqlite", errors.New("third"))
	got = cur.Next()
	if len(got) != 1 || got[0].Sink != "sqlite" {
		t.Fatalf("expected the third entry only, got %+v", got)
	}
	if again := cur.Next(); len(again) != 0 {
		t.Errorf("expected the cursor to be at the end, got %d entries", len(again))
	}
}

func TestCursorsAreIndependent(t *testing.T) {
	log := errlog.New()
	a := log.NewCursor()
	log.Append("x", errors.New("boom"))
	b := log.NewCursor()

	if len(a.Next()) != 1 {
		t.Fatal("cursor a should see the entry")
	}
	if len(b.Next()) != 1 {
		t.Fatal("cursor b starts at zero and should see the entry")
	}
}

func TestSharedCursorYieldsDisjointSlices(t *testing.T) {
	log := errlog.New()
	for i := 0; i < 200; i++ {
		log.Append("x", fmt.Errorf("err %d", i))
	}
	cur := log.NewCursor()

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range cur.Next() {
				mu.Lock()
				seen[e.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 200 {
		t.Fatalf("expected 200 distinct entries, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("entry %s delivered %d times", id, n)
		}
	}
}

func TestLast(t *testing.T) {
	log := errlog.New()
	if got := log.Last(10); len(got) != 0 {
		t.Fatalf("expected empty slice, got %d", len(got))
	}
	for i := 0; i < 15; i++ {
		log.Append("x", fmt.Errorf("err %d", i))
	}

	got := log.Last(10)
	if len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(got))
	}
	if got[0].Error != "err 5" || got[9].Error != "err 14" {
		t.Errorf("unexpected window: first=%q last=%q", got[0].Error, got[9].Error)
	}
	if log.Len() != 15 {
		t.Errorf("expected len 15, got %d", log.Len())
	}
}

func TestAppendAssignsSortableIDs(t *testing.T) {
	log := errlog.New()
	a := log.Append("x", errors.New("a"))
	b := log.Append("x", errors.New("b"))
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected ids")
	}
	if !(a.ID < b.ID) {
		t.Errorf("expected monotonic ids, got %s then %s", a.ID, b.ID)
	}
}
