package cache

import (
	"testing"
	"time"
)

func TestLocalSetGetDelete(t *testing.T) {
	c := NewLocal(time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get on empty cache returned a value")
	}

	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v.(int) != 1 {
		t.Fatalf("Get = %v, %v, want 1, true", v, ok)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("Get after Delete returned a value")
	}
	c.Delete("a") // no-op
}

func TestLocalExpiry(t *testing.T) {
	c := NewLocal(10 * time.Millisecond)
	c.Set("a", 1)

	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry expired immediately")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after expired read", c.Len())
	}
}
