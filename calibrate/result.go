package calibrate

import "time"

// Point is the mean torque observed at one input current
type Point struct {
	InputCurrent int     `json:"inputCurrent"`
	OutputTorque float64 `json:"outputTorque"`
}

// Result is the outcome of a run.  Points are in setpoint order and are
// valid whether or not the run finished.
type Result struct {
	Points  []Point
	Planned int
	Phase   Phase

	// Cancelled is set when the operator stopped the run
	Cancelled bool

	// ShutdownErr holds any failure to zero the motor or brake
	ShutdownErr error

	Started  time.Time
	Finished time.Time
}

// Complete reports whether every planned setpoint was measured
func (r *Result) Complete() bool {
	return r.Planned > 0 && len(r.Points) == r.Planned
}
