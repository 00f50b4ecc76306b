package calibrate

// Phase is a step of the calibration state machine
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseConfiguring Phase = "Configuring"
	PhaseRamping     Phase = "Ramping"
	PhaseSweeping    Phase = "Sweeping"
	PhaseShutdown    Phase = "Shutdown"
	PhaseDone        Phase = "Done"
	PhaseAborted     Phase = "Aborted"
)
