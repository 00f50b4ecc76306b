package jrk

import (
	"context"
	"errors"
	"sync"
)

// MockSettings is a trimmed settings file as printed by a factory-fresh
// Jrk G2 18v27 wired for closed-loop analog feedback
const MockSettings = `# Pololu Jrk G2 settings file.
# https://www.pololu.com/docs/0J73
product: jrk2_18v27
input_mode: serial
input_error_minimum: 0
input_error_maximum: 4095
input_minimum: 0
input_maximum: 4095
input_neutral_minimum: 2048
input_neutral_maximum: 2048
output_minimum: 0
output_neutral: 2048
output_maximum: 4095
feedback_mode: analog
feedback_error_minimum: 0
feedback_error_maximum: 4095
proportional_multiplier: 1
proportional_exponent: 3
max_duty_cycle_forward: 600
max_duty_cycle_reverse: 600
soft_current_limit_forward: 12000
soft_current_limit_reverse: 12000
hard_current_limit_forward: 1984
hard_current_limit_reverse: 1984
`

// ErrMockOffline is returned by an offline Mock
var ErrMockOffline = errors.New("jrk mock: controller offline")

// Mock is an in-memory Gateway.  Committed settings only become active on
// Reinitialize, as on the real controller.
type Mock struct {
	sync.Mutex
	stored  []byte
	active  []byte
	speed   int
	reinits int
	offline bool

	// Speeds records every commanded speed in order
	Speeds []int

	// Reject, if set, is returned by SetSettings
	Reject error
}

// NewMock returns a Mock holding MockSettings
func NewMock() *Mock {
	return &Mock{stored: []byte(MockSettings), active: []byte(MockSettings)}
}

// SetOffline makes every call fail with ErrMockOffline
func (m *Mock) SetOffline(b bool) {
	m.Lock()
	defer m.Unlock()
	m.offline = b
}

// GetSettings satisfies Gateway
func (m *Mock) GetSettings(ctx context.Context) ([]byte, error) {
	m.Lock()
	defer m.Unlock()
	if m.offline {
		return nil, ErrMockOffline
	}
	return append([]byte(nil), m.stored...), nil
}

// SetSettings satisfies Gateway
func (m *Mock) SetSettings(ctx context.Context, settings []byte) error {
	m.Lock()
	defer m.Unlock()
	if m.offline {
		return ErrMockOffline
	}
	if m.Reject != nil {
		return m.Reject
	}
	if _, err := ParseSettings(settings); err != nil {
		return err
	}
	m.stored = append([]byte(nil), settings...)
	return nil
}

// Reinitialize satisfies Gateway.  It stops the motor.
func (m *Mock) Reinitialize(ctx context.Context) error {
	m.Lock()
	defer m.Unlock()
	if m.offline {
		return ErrMockOffline
	}
	m.active = append([]byte(nil), m.stored...)
	m.speed = 0
	m.reinits++
	return nil
}

// SetSpeed satisfies Gateway
func (m *Mock) SetSpeed(ctx context.Context, speed int) error {
	m.Lock()
	defer m.Unlock()
	if m.offline {
		return ErrMockOffline
	}
	m.speed = speed
	m.Speeds = append(m.Speeds, speed)
	return nil
}

// Speed is the current native speed
func (m *Mock) Speed() int {
	m.Lock()
	defer m.Unlock()
	return m.speed
}

// Reinits counts Reinitialize calls
func (m *Mock) Reinits() int {
	m.Lock()
	defer m.Unlock()
	return m.reinits
}

// Active returns the settings the controller is running with
func (m *Mock) Active() (*Settings, error) {
	m.Lock()
	defer m.Unlock()
	return ParseSettings(m.active)
}
