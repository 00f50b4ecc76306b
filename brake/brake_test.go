package brake

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadmill/brakecal/comm"
	"github.com/treadmill/brakecal/harp"
)

type write struct {
	address byte
	typ     harp.PayloadType
	payload []byte
}

type fakeLink struct {
	writes []write
	read   []byte
	err    error
}

func (f *fakeLink) Read(address byte, typ harp.PayloadType) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.read, nil
}

func (f *fakeLink) Write(address byte, typ harp.PayloadType, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, write{address, typ, append([]byte(nil), payload...)})
	return nil
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSetBrakeCurrentWritesLittleEndianU16(t *testing.T) {
	link := &fakeLink{}
	b := NewBoard(link, quiet())
	require.NoError(t, b.SetBrakeCurrent(0x1234))
	require.Len(t, link.writes, 1)
	assert.Equal(t, write{RegBrakeCurrentSetpoint, harp.U16, []byte{0x34, 0x12}}, link.writes[0])
}

func TestClearOvertorqueFaultWritesZero(t *testing.T) {
	link := &fakeLink{}
	b := NewBoard(link, quiet())
	require.NoError(t, b.ClearOvertorqueFault())
	assert.Equal(t, []write{{RegTorqueLimitingTriggered, harp.U8, []byte{0}}}, link.writes)
}

func TestReadMeasurementDecodesTriple(t *testing.T) {
	link := &fakeLink{read: EncodeSample(Sample{Position: -5, Torque: 2100, Current: 400})}
	b := NewBoard(link, quiet())
	s, err := b.ReadMeasurement()
	require.NoError(t, err)
	assert.Equal(t, Sample{Position: -5, Torque: 2100, Current: 400}, s)
}

func TestDecodeSampleByteOrder(t *testing.T) {
	s, err := DecodeSample([]byte{
		0xFF, 0xFF, 0xFF, 0xFF,
		0x0A, 0x00, 0x00, 0x00,
		0x00, 0x01, 0x00, 0x00,
	})
	require.NoError(t, err)
	assert.Equal(t, Sample{Position: -1, Torque: 10, Current: 256}, s)
}

func TestMalformedMeasurementIsLinkError(t *testing.T) {
	link := &fakeLink{read: []byte{1, 2, 3, 4}}
	b := NewBoard(link, quiet())
	_, err := b.ReadMeasurement()
	assert.True(t, errors.Is(err, comm.ErrLink))
}

func TestLinkErrorsPropagate(t *testing.T) {
	link := &fakeLink{err: comm.Link("Read register 35", io.ErrUnexpectedEOF)}
	b := NewBoard(link, quiet())
	_, err := b.ReadMeasurement()
	assert.True(t, errors.Is(err, comm.ErrLink))
	assert.True(t, errors.Is(b.SetBrakeCurrent(1), comm.ErrLink))
}

func TestMockLatchHidesTorqueUntilCleared(t *testing.T) {
	m := NewMock(nil)
	b := NewBoard(m, quiet())
	require.NoError(t, b.SetBrakeCurrent(20000))

	s, err := b.ReadMeasurement()
	require.NoError(t, err)
	assert.Equal(t, int32(MidScale), s.Torque)

	require.NoError(t, b.ClearOvertorqueFault())
	assert.False(t, m.Latched())
	s, err = b.ReadMeasurement()
	require.NoError(t, err)
	assert.Equal(t, m.Torque(20000, 600), s.Torque)
	assert.Greater(t, s.Torque, int32(MidScale))
	assert.Equal(t, int32(20000), s.Current)
}

func TestMockTorqueFollowsDirectionAndIsMonotonic(t *testing.T) {
	m := NewMock(nil)
	assert.Equal(t, int32(MidScale), m.Torque(30000, 0))
	assert.Equal(t, m.Torque(30000, 600)-MidScale, MidScale-m.Torque(30000, -600))

	last := m.Torque(0, 600)
	for c := uint16(4); c < 40000; c += 400 {
		next := m.Torque(c, 600)
		assert.GreaterOrEqual(t, next, last)
		last = next
	}
}

func TestMockRejectsUnknownRegistersAsLinkErrors(t *testing.T) {
	m := NewMock(nil)
	err := m.Write(99, harp.U8, []byte{0})
	assert.True(t, errors.Is(err, comm.ErrLink), "%v", err)
	_, err = m.Read(99, harp.U8)
	assert.True(t, errors.Is(err, comm.ErrLink), "%v", err)

	_, err = NewBoard(m, quiet()).ReadMeasurement()
	assert.NoError(t, err)
	err = m.Write(RegBrakeCurrentSetpoint, harp.U16, []byte{1})
	assert.True(t, errors.Is(err, comm.ErrLink), "%v", err)
}

func TestWhoAmI(t *testing.T) {
	b := NewBoard(NewMock(nil), quiet())
	id, err := b.WhoAmI()
	require.NoError(t, err)
	assert.Equal(t, uint16(mockWhoAmI), id)

	_, err = NewBoard(&fakeLink{read: []byte{1}}, quiet()).WhoAmI()
	assert.True(t, errors.Is(err, comm.ErrLink))
}
