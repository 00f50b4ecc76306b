package brake

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/treadmill/brakecal/comm"
	"github.com/treadmill/brakecal/harp"
)

const (
	// MidScale is the torque reading with no load on the brake
	MidScale = 2048

	mockFullScaleTorque = 1900.
	mockKnee            = 18000. // raw current where torque reaches ~63% of full scale
	mockWhoAmI          = 1402
)

// Mock is a simulated board, answering register reads and writes the way the
// firmware does.  It starts with the overtorque latch set, as a board does
// after the motor controller is reinitialized.
type Mock struct {
	sync.Mutex
	current  uint16
	latched  bool
	position int32

	// Speed reports the drive motor's native speed, [-600, 600].  Torque is
	// only developed while the motor turns, with a sign that follows it.
	Speed func() int

	// Writes counts writes per register
	Writes map[byte]int
}

// NewMock returns a simulated board driven by a motor whose speed is reported
// by speed.  A nil speed means the motor always turns forward at full speed.
func NewMock(speed func() int) *Mock {
	if speed == nil {
		speed = func() int { return 600 }
	}
	return &Mock{latched: true, Speed: speed, Writes: make(map[byte]int)}
}

// Torque is the simulated static current-to-torque curve, a saturating
// exponential.  It is exported so tests can compare against it.
func (m *Mock) Torque(current uint16, speed int) int32 {
	if speed == 0 {
		return MidScale
	}
	mag := mockFullScaleTorque * (1 - math.Exp(-float64(current)/mockKnee))
	if speed < 0 {
		mag = -mag
	}
	return MidScale + int32(math.Round(mag))
}

// Read satisfies Link
func (m *Mock) Read(address byte, typ harp.PayloadType) ([]byte, error) {
	m.Lock()
	defer m.Unlock()
	switch {
	case address == harp.RegWhoAmI && typ == harp.U16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, mockWhoAmI)
		return b, nil
	case address == RegAllSensors && typ == harp.S32:
		speed := m.Speed()
		m.position += int32(speed / 60)
		torque := int32(MidScale)
		if !m.latched {
			torque = m.Torque(m.current, speed)
		}
		return EncodeSample(Sample{Position: m.position, Torque: torque, Current: int32(m.current)}), nil
	}
	return nil, comm.Link(fmt.Sprintf("Read register %d", address),
		fmt.Errorf("mock board does not serve payload type %#x here", byte(typ)))
}

// Write satisfies Link
func (m *Mock) Write(address byte, typ harp.PayloadType, payload []byte) error {
	m.Lock()
	defer m.Unlock()
	switch {
	case address == RegBrakeCurrentSetpoint && typ == harp.U16 && len(payload) == 2:
		m.current = binary.LittleEndian.Uint16(payload)
	case address == RegTorqueLimitingTriggered && typ == harp.U8 && len(payload) == 1:
		m.latched = payload[0] != 0
	default:
		return comm.Link(fmt.Sprintf("Write register %d", address),
			fmt.Errorf("mock board does not accept %d bytes of payload type %#x here", len(payload), byte(typ)))
	}
	m.Writes[address]++
	return nil
}

// BrakeCurrent returns the last written setpoint
func (m *Mock) BrakeCurrent() uint16 {
	m.Lock()
	defer m.Unlock()
	return m.current
}

// Latched reports whether the overtorque latch is set
func (m *Mock) Latched() bool {
	m.Lock()
	defer m.Unlock()
	return m.latched
}
