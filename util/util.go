// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Clamp limits x to [low, high]
func Clamp(x, low, high float64) float64 {
	return math.Max(low, math.Min(x, high))
}

// SecsToDuration converts a float number of seconds to a duration,
// rounding to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// ArangeUint16 works like numpy's arange: one argument is the end, two are
// start and end, three are start, end and step.  The end is exclusive.
// The result never wraps around; a zero step returns nil.
func ArangeUint16(args ...uint16) []uint16 {
	var start, end, step int = 0, 0, 1
	switch len(args) {
	case 1:
		end = int(args[0])
	case 2:
		start, end = int(args[0]), int(args[1])
	case 3:
		start, end, step = int(args[0]), int(args[1]), int(args[2])
	default:
		panic("ArangeUint16 takes one to three arguments")
	}
	if step == 0 || end <= start {
		return nil
	}
	out := make([]uint16, 0, (end-start+step-1)/step)
	for i := start; i < end; i += step {
		out = append(out, uint16(i))
	}
	return out
}
