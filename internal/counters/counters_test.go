package counters

import (
	"testing"

	store "github.com/flashkv/store"
	"github.com/flashkv/store/internal/flashdev"
)

func TestIncrementAccumulates(t *testing.T) {
	dev := flashdev.NewSimDevice(64, 4)
	s, err := store.Open(store.Config{Device: dev, PageWords: 64, PageCount: 4, StraddleWords: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c := New(s)
	if v, err := c.Increment(3, 5); err != nil || v != 5 {
		t.Fatalf("Increment = (%d, %v), want (5, nil)", v, err)
	}
	if v, err := c.Increment(3, 7); err != nil || v != 12 {
		t.Fatalf("Increment = (%d, %v), want (12, nil)", v, err)
	}
	if v, err := c.Get(3); err != nil || v != 12 {
		t.Fatalf("Get = (%d, %v), want (12, nil)", v, err)
	}
	if v, err := c.Get(4); err != nil || v != 0 {
		t.Fatalf("Get of untouched counter = (%d, %v), want (0, nil)", v, err)
	}
}

func TestIncrementRejectsOutOfRangeID(t *testing.T) {
	dev := flashdev.NewSimDevice(64, 4)
	s, _ := store.Open(store.Config{Device: dev, PageWords: 64, PageCount: 4, StraddleWords: 2})
	c := New(s)
	if _, err := c.Get(Count); err != store.ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
