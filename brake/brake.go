// Package brake talks to the treadmill sensor and brake board: it sets the
// magnetic brake current, clears the overtorque latch, and reads the
// synchronized position, torque and current measurements.
package brake

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/treadmill/brakecal/comm"
	"github.com/treadmill/brakecal/harp"
)

const (
	// RegAllSensors holds [position, torque, current] as three int32
	RegAllSensors = 35

	// RegBrakeCurrentSetpoint holds the raw brake current, uint16
	RegBrakeCurrentSetpoint = 37

	// RegTorqueLimitingTriggered is the overtorque fault latch, uint8.  Writing
	// 0 clears it.
	RegTorqueLimitingTriggered = 41

	sampleSize = 3 * 4
)

// Link is a register-level connection to the board.  *harp.Device satisfies it.
type Link interface {
	Read(address byte, typ harp.PayloadType) ([]byte, error)
	Write(address byte, typ harp.PayloadType, payload []byte) error
}

// Sample is one synchronized measurement from the board
type Sample struct {
	Position int32 `json:"position"`
	Torque   int32 `json:"torque"`
	Current  int32 `json:"current"`
}

// Board is the sensor and brake board
type Board struct {
	link Link
	log  logrus.FieldLogger
}

// NewBoard returns a Board using link for all traffic
func NewBoard(link Link, log logrus.FieldLogger) *Board {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Board{link: link, log: log.WithField("device", "brake")}
}

// SetBrakeCurrent writes the raw brake current setpoint
func (b *Board) SetBrakeCurrent(raw uint16) error {
	var p [2]byte
	binary.LittleEndian.PutUint16(p[:], raw)
	err := b.link.Write(RegBrakeCurrentSetpoint, harp.U16, p[:])
	if err != nil {
		return err
	}
	b.log.WithField("raw", raw).Trace("brake current set")
	return nil
}

// ClearOvertorqueFault clears a latched overtorque condition.  Reinitializing
// the motor controller or an earlier run can leave the latch set, and no
// valid torque is reported while it is.
func (b *Board) ClearOvertorqueFault() error {
	err := b.link.Write(RegTorqueLimitingTriggered, harp.U8, []byte{0})
	if err != nil {
		return err
	}
	b.log.Debug("overtorque latch cleared")
	return nil
}

// WhoAmI returns the board's device identifier
func (b *Board) WhoAmI() (uint16, error) {
	p, err := b.link.Read(harp.RegWhoAmI, harp.U16)
	if err != nil {
		return 0, err
	}
	if len(p) != 2 {
		return 0, comm.Link(fmt.Sprintf("decode register %d", harp.RegWhoAmI),
			fmt.Errorf("expected 2 bytes, got %d", len(p)))
	}
	return binary.LittleEndian.Uint16(p), nil
}

// ReadMeasurement reads one synchronized sample
func (b *Board) ReadMeasurement() (Sample, error) {
	p, err := b.link.Read(RegAllSensors, harp.S32)
	if err != nil {
		return Sample{}, err
	}
	return DecodeSample(p)
}

// DecodeSample unpacks a little-endian [position, torque, current] payload
func DecodeSample(p []byte) (Sample, error) {
	if len(p) != sampleSize {
		return Sample{}, comm.Link(fmt.Sprintf("decode register %d", RegAllSensors),
			fmt.Errorf("expected %d bytes, got %d", sampleSize, len(p)))
	}
	return Sample{
		Position: int32(binary.LittleEndian.Uint32(p[0:4])),
		Torque:   int32(binary.LittleEndian.Uint32(p[4:8])),
		Current:  int32(binary.LittleEndian.Uint32(p[8:12])),
	}, nil
}

// EncodeSample is the inverse of DecodeSample
func EncodeSample(s Sample) []byte {
	p := make([]byte, sampleSize)
	binary.LittleEndian.PutUint32(p[0:4], uint32(s.Position))
	binary.LittleEndian.PutUint32(p[4:8], uint32(s.Torque))
	binary.LittleEndian.PutUint32(p[8:12], uint32(s.Current))
	return p
}
