package calibrate

import (
	"fmt"
	"math"
	"time"

	"github.com/treadmill/brakecal/util"
)

const (
	// FullScale is the largest raw brake current
	FullScale = math.MaxUint16

	// Step is the spacing of distinct raw currents.  The board's DAC is 12
	// bits wide, upscaled into a 16 bit register.
	Step = 4
)

// RawFromPercent maps percent of full scale to a raw current, rounding to
// nearest.  percent is clamped to [0, 100].
func RawFromPercent(percent float64) uint16 {
	return uint16(math.Round(FullScale * util.Clamp(percent, 0, 100) / 100))
}

// Plan is the ordered sequence of raw current setpoints of one sweep
type Plan struct {
	setpoints []uint16
}

// NewPlan builds the setpoints from minPercent, rounded up onto the Step
// grid, to maxPercent of full scale, exclusive of the end
func NewPlan(minPercent, maxPercent float64) (Plan, error) {
	if minPercent < 0 || maxPercent > 100 || minPercent > maxPercent {
		return Plan{}, fmt.Errorf("current range [%g%%, %g%%] must lie within [0%%, 100%%] and be ascending", minPercent, maxPercent)
	}
	start := int(RawFromPercent(minPercent))
	start = (start + Step - 1) / Step * Step
	end := int(RawFromPercent(maxPercent))
	if start >= end {
		return Plan{}, fmt.Errorf("current range [%g%%, %g%%] contains no setpoints", minPercent, maxPercent)
	}
	return Plan{setpoints: util.ArangeUint16(uint16(start), uint16(end), Step)}, nil
}

// Len is the number of setpoints
func (p Plan) Len() int {
	return len(p.setpoints)
}

// At returns the i-th setpoint
func (p Plan) At(i int) uint16 {
	return p.setpoints[i]
}

// EstimatedDuration is a lower bound on the sweep time when averaging count
// samples spaced dt apart at each setpoint
func (p Plan) EstimatedDuration(count int, dt time.Duration) time.Duration {
	return time.Duration(p.Len()*count) * dt
}
