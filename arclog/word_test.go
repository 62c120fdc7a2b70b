/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package arclog

import "testing"

func TestWordHelpers(t *testing.T) {
	var w uint64
	if wordLen(w) != 0 || isLocked(w) || hasForward(w) {
		t.Fatalf("zero word should decode to len=0, unlocked, no forward")
	}

	w = 5
	if wordLen(w) != 5 {
		t.Fatalf("wordLen(5) = %d, want 5", wordLen(w))
	}

	locked := lockWord(w)
	if !isLocked(locked) {
		t.Fatal("lockWord must set the lock bit")
	}
	if wordLen(locked) != 5 {
		t.Fatal("locking must not disturb the length bits")
	}
	if hasForward(locked) {
		t.Fatal("lockWord must not set the forward bit")
	}

	fwd := markForward(w)
	if !hasForward(fwd) {
		t.Fatal("markForward must set the forward bit")
	}
	if isLocked(fwd) {
		t.Fatal("markForward must not set the lock bit")
	}
	if wordLen(fwd) != 5 {
		t.Fatal("marking forward must not disturb the length bits")
	}
}

func TestGrowthFloor(t *testing.T) {
	cases := []struct {
		elemSize int
		want     int
	}{
		{1, 8},
		{2, 4},
		{1024, 4},
		{1025, 1},
		{4096, 1},
	}
	for _, c := range cases {
		if got := growthFloor(c.elemSize); got != c.want {
			t.Errorf("growthFloor(%d) = %d, want %d", c.elemSize, got, c.want)
		}
	}
}

func TestGrowCap(t *testing.T) {
	cases := []struct{ cap, need, floor, want int }{
		{0, 1, 8, 8},
		{0, 10, 4, 10},
		{4, 5, 4, 8},
		{4, 20, 1, 20},
	}
	for _, c := range cases {
		if got := growCap(c.cap, c.need, c.floor); got != c.want {
			t.Errorf("growCap(%d,%d,%d) = %d, want %d", c.cap, c.need, c.floor, got, c.want)
		}
	}
}
