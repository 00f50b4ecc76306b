// Package calibrate runs the magnetic brake current sweep. It contains:
//
//   - Plan: the ascending raw current setpoints to visit
//   - Engine: the state machine that configures the motor controller, spins
//     the drive motor up, sweeps the brake current and always zeroes both on
//     the way out
//   - Result: the averaged (input current, output torque) points
//
// The engine owns the hardware for the length of a run and issues exactly
// one request at a time.
package calibrate
