// Package cmn provides common low-level types and utilities shared by the cache engine,
// the bitmap allocator, the storage backends, and the replacement policies.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Assert panics if cond is false. Used at invariant boundaries the design treats as bugs
// rather than recoverable errors (§7: "assert and abort" in debug builds).
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertMsg panics with msg if cond is false.
func AssertMsg(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

// Assertf panics with a formatted message if cond is false.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func MinI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func MaxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DivCeil divides a by b and rounds up, the way memsys.DivCeil sizes SGL segment counts.
func DivCeil(a, b int64) int64 {
	return (a + b - 1) / b
}

// B2S formats a byte count the way aistore's cmn.B2S does, for log lines only.
func B2S(b int64, digits int) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.*f%ciB", digits, float64(b)/float64(div), "KMGTPE"[exp])
}
