/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package arclog

// The packed length word (spec.md §4.2) carries three pieces of state
// in a single uint64 so that one compare-and-swap can both reserve the
// right to write and observe staleness:
//
//	bit 63      writer-lock bit
//	bit 62      has-forward bit
//	bits 0..61  committed length
const (
	lockBit = uint64(1) << 63
	fwdBit  = uint64(1) << 62
	lenMask = fwdBit - 1
	maxLen  = lenMask
)

func wordLen(w uint64) uint64     { return w & lenMask }
func isLocked(w uint64) bool      { return w&lockBit != 0 }
func hasForward(w uint64) bool    { return w&fwdBit != 0 }
func lockWord(w uint64) uint64    { return w | lockBit }
func markForward(w uint64) uint64 { return w | fwdBit }
