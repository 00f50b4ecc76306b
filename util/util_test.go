package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/treadmill/brakecal/util"
)

func ExampleArangeUint16_endOnly() {
	fmt.Println(util.ArangeUint16(10))
	// Output: [0 1 2 3 4 5 6 7 8 9]
}

func ExampleArangeUint16_startEnd() {
	fmt.Println(util.ArangeUint16(5, 15))
	// Output: [5 6 7 8 9 10 11 12 13 14]
}

func ExampleArangeUint16_startEndStep() {
	fmt.Println(util.ArangeUint16(10, 22, 4))
	// Output: [10 14 18]
}

func TestArangeUint16Forward(t *testing.T) {
	var (
		start uint16 = 10
		end   uint16 = 20
		step  uint16 = 3
	)
	res := util.ArangeUint16(start, end, step)
	if len(res) != 4 {
		t.Fatalf("expected 4 elements, got %v", res)
	}
	for i := 0; i < len(res); i++ {
		expected := start + (uint16(i) * step)
		if res[i] != expected {
			t.Errorf("expected %d at position %d, got %d", expected, i, res[i])
		}
	}
}

func TestArangeUint16DoesNotWrap(t *testing.T) {
	res := util.ArangeUint16(65530, 65535, 4)
	if len(res) != 2 || res[0] != 65530 || res[1] != 65534 {
		t.Errorf("expected [65530 65534], got %v", res)
	}
}

func TestArangeUint16Empty(t *testing.T) {
	if res := util.ArangeUint16(20, 10); res != nil {
		t.Errorf("expected nil for end < start, got %v", res)
	}
	if res := util.ArangeUint16(0, 10, 0); res != nil {
		t.Errorf("expected nil for zero step, got %v", res)
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampInRange(t *testing.T) {
	if out := util.Clamp(3.5, 0, 10); out != 3.5 {
		t.Errorf("expected in range value to pass through, got %f", out)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
