package exclusivity

import (
	"sync"
	"testing"
)

func TestTryInsertFirstAlwaysSucceeds(t *testing.T) {
	r := New()
	if !r.TryInsert(1, "alice", false) {
		t.Fatal("first insert for a username should always succeed")
	}
}

func TestTryInsertRejectsSecondReadWrite(t *testing.T) {
	r := New()
	r.TryInsert(1, "alice", false)
	if r.TryInsert(2, "alice", false) {
		t.Error("a second read-write session for the same user should be rejected")
	}
}

func TestTryInsertRejectsReadWriteAlongsideReadOnly(t *testing.T) {
	r := New()
	r.TryInsert(1, "alice", true)
	if r.TryInsert(2, "alice", false) {
		t.Error("read-write should be rejected when a read-only session already holds the user")
	}
}

func TestTryInsertRejectsReadOnlyAlongsideReadWrite(t *testing.T) {
	r := New()
	r.TryInsert(1, "alice", false)
	if r.TryInsert(2, "alice", true) {
		t.Error("read-only should be rejected when a read-write session already holds the user")
	}
}

func TestTryInsertAllowsMultipleReadOnly(t *testing.T) {
	r := New()
	if !r.TryInsert(1, "alice", true) {
		t.Fatal("first read-only insert should succeed")
	}
	if !r.TryInsert(2, "alice", true) {
		t.Error("a second read-only session for the same user should be allowed")
	}
	if !r.TryInsert(3, "alice", true) {
		t.Error("a third read-only session for the same user should be allowed")
	}
}

func TestTryInsertDifferentUsersIndependent(t *testing.T) {
	r := New()
	if !r.TryInsert(1, "alice", false) {
		t.Fatal("insert for alice should succeed")
	}
	if !r.TryInsert(2, "bob", false) {
		t.Error("insert for a different user should be independent of alice's entry")
	}
}

func TestRemoveFreesTheSlot(t *testing.T) {
	r := New()
	r.TryInsert(1, "alice", false)
	r.Remove(1)
	if !r.TryInsert(2, "alice", false) {
		t.Error("removing the holder should free the username for a new read-write session")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	r.Remove(99) // never inserted
	r.TryInsert(1, "alice", false)
	r.Remove(1)
	r.Remove(1) // already removed
	if !r.TryInsert(2, "alice", false) {
		t.Error("double Remove should not corrupt the registry")
	}
}

func TestRegistryConcurrentReadWriteAttempts(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	successes := make(chan uint64, 50)

	for i := uint64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if r.TryInsert(id, "alice", false) {
				successes <- id
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one concurrent read-write insert should win, got %d", count)
	}
}
