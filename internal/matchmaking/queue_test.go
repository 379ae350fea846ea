package matchmaking

import "testing"

func TestNextPairsOldestTwo(t *testing.T) {
	q := NewQueue(true)
	q.Enqueue(Entry{Identity: "a", Handle: "h1"})
	q.Enqueue(Entry{Identity: "b", Handle: "h2"})
	q.Enqueue(Entry{Identity: "c", Handle: "h3"})

	first, second, res := q.Next()
	if res != Paired {
		t.Fatalf("Next() result = %v, want %v", res, Paired)
	}
	if first.Identity != "a" || second.Identity != "b" {
		t.Fatalf("paired %s+%s, want a+b", first.Identity, second.Identity)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	if _, _, res := q.Next(); res != NotEnough {
		t.Fatalf("Next() result = %v, want %v", res, NotEnough)
	}
}

func TestNextRequeuesSameIdentity(t *testing.T) {
	q := NewQueue(true)
	q.Enqueue(Entry{Identity: "a", Handle: "h1"})
	q.Enqueue(Entry{Identity: "a", Handle: "h2"})
	q.Enqueue(Entry{Identity: "b", Handle: "h3"})

	if _, _, res := q.Next(); res != SameIdentity {
		t.Fatalf("Next() result = %v, want %v", res, SameIdentity)
	}
	snap := q.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Len() = %d, want 3 (no entry dropped)", len(snap))
	}
	if snap[0].Handle != "h1" || snap[1].Handle != "h3" || snap[2].Handle != "h2" {
		t.Fatalf("order = %+v, want h1, h3, h2", snap)
	}

	first, second, res := q.Next()
	if res != Paired || first.Identity == second.Identity {
		t.Fatalf("Next() = %s+%s (%v), want distinct pair", first.Identity, second.Identity, res)
	}
}

func TestNextNeverPairsEqualIdentities(t *testing.T) {
	q := NewQueue(true)
	for i := 0; i < 4; i++ {
		q.Enqueue(Entry{Identity: "same", Handle: string(rune('a' + i))})
	}
	for i := 0; i < 8; i++ {
		if _, _, res := q.Next(); res == Paired {
			t.Fatalf("paired two entries with the same identity")
		}
	}
	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}
}

func TestNextAllowsSameIdentityWhenNotRequired(t *testing.T) {
	q := NewQueue(false)
	q.Enqueue(Entry{Identity: "a", Handle: "h1"})
	q.Enqueue(Entry{Identity: "a", Handle: "h2"})
	if _, _, res := q.Next(); res != Paired {
		t.Fatalf("Next() result = %v, want %v", res, Paired)
	}
}

func TestRemoveAndReplace(t *testing.T) {
	q := NewQueue(true)
	q.Enqueue(Entry{Identity: "a", Handle: "h1"})
	q.Enqueue(Entry{Identity: "b", Handle: "h2"})

	old, ok := q.Replace("a", "h9")
	if !ok || old != "h1" {
		t.Fatalf("Replace() = %q, %v; want h1, true", old, ok)
	}
	if _, ok := q.Remove("h1"); ok {
		t.Fatalf("Remove(old handle) found an entry")
	}
	if _, ok := q.Remove("h9"); !ok {
		t.Fatalf("Remove(h9) = false, want true")
	}
	if q.Len() != 1 || q.Snapshot()[0].Identity != "b" {
		t.Fatalf("Snapshot() = %+v after removal, want only b", q.Snapshot())
	}
}
