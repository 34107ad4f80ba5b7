package machine

import (
	"sync"
	"testing"
)

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache()

	if _, ok := c.Get("m-1"); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}

	c.Put("m-1", &Machine{ID: "m-1", Status: StatusAvailable})
	c.Put("m-1", &Machine{ID: "m-1", Status: StatusAwaitingDropoff, JobID: strPtr("7")})

	got, ok := c.Get("m-1")
	if !ok {
		t.Fatal("Get() missed after Put")
	}
	if got.Status != StatusAwaitingDropoff || *got.JobID != "7" {
		t.Errorf("Get() = %+v, want the last Put to win", got)
	}

	*got.JobID = "mutated"
	again, _ := c.Get("m-1")
	if *again.JobID != "7" {
		t.Error("cached entry mutated through returned value")
	}

	c.Put("m-2", nil)
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (nil Put ignored)", c.Len())
	}
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Put("m-1", &Machine{ID: "m-1", Status: StatusRunning, JobID: strPtr("j")})
		}()
		go func() {
			defer wg.Done()
			if m, ok := c.Get("m-1"); ok && m.ID != "m-1" {
				t.Errorf("iteration %d read %+v", i, m)
			}
		}()
	}
	wg.Wait()
}

func TestRistrettoCache(t *testing.T) {
	if _, err := NewRistrettoCache(0); err == nil {
		t.Error("NewRistrettoCache(0) should fail")
	}

	c, err := NewRistrettoCache(100)
	if err != nil {
		t.Fatalf("NewRistrettoCache() error = %v", err)
	}
	defer c.Close()

	if _, ok := c.Get("m-1"); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}

	c.Put("m-1", &Machine{ID: "m-1", LocationID: "L", Status: StatusRunning, JobID: strPtr("7")})
	got, ok := c.Get("m-1")
	if !ok {
		t.Fatal("Get() missed right after Put")
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %s, want RUNNING", got.Status)
	}

	*got.JobID = "mutated"
	if again, _ := c.Get("m-1"); *again.JobID != "7" {
		t.Error("cached entry mutated through returned value")
	}
}
