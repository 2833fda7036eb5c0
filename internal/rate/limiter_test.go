package rate

import (
	"testing"
	"time"
)

func TestAllowUpToLimit(t *testing.T) {
	m := NewMemory()

	for i := 0; i < 3; i++ {
		ok, _ := m.Allow("client-a", 3, time.Minute)
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, retry := m.Allow("client-a", 3, time.Minute)
	if ok {
		t.Fatalf("fourth request should be limited")
	}
	if retry <= 0 {
		t.Fatalf("expected positive retry hint, got %v", retry)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	m := NewMemory()

	if ok, _ := m.Allow("client-a", 1, time.Minute); !ok {
		t.Fatalf("first key should be allowed")
	}
	if ok, _ := m.Allow("client-a", 1, time.Minute); ok {
		t.Fatalf("first key should now be limited")
	}
	if ok, _ := m.Allow("client-b", 1, time.Minute); !ok {
		t.Fatalf("second key must not share the first key's bucket")
	}
}

func TestWindowExpiryResets(t *testing.T) {
	m := NewMemory()

	if ok, _ := m.Allow("client-a", 1, time.Millisecond); !ok {
		t.Fatalf("first request should be allowed")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := m.Allow("client-a", 1, time.Millisecond); !ok {
		t.Fatalf("request after window expiry should be allowed")
	}
}
