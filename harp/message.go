// Package harp speaks the Harp binary protocol used by the treadmill sensor
// and brake board.
package harp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// messages are encoded as
// [TYPE] [LENGTH] [ADDRESS] [PORT] [PAYLOAD TYPE] [TIMESTAMP?] [PAYLOAD] [CHECKSUM]
//
// LENGTH counts every byte after itself.  TIMESTAMP is six bytes, a uint32 of
// seconds and a uint16 of 32 us ticks, and is only present when the payload
// type carries HasTimestamp.  CHECKSUM is the sum of all preceding bytes,
// truncated to a byte.

// MessageType is the first byte of a message
type MessageType byte

const (
	// Read requests or returns the contents of a register
	Read MessageType = 1

	// Write sets the contents of a register
	Write MessageType = 2

	// Event is sent by the device unprompted
	Event MessageType = 3

	// ErrorFlag is set on replies the device could not honor
	ErrorFlag MessageType = 0x08
)

func (t MessageType) String() string {
	s := "Unknown"
	switch t &^ ErrorFlag {
	case Read:
		s = "Read"
	case Write:
		s = "Write"
	case Event:
		s = "Event"
	}
	if t&ErrorFlag != 0 {
		s += "Error"
	}
	return s
}

// PayloadType describes the element type of a register
type PayloadType byte

const (
	U8  PayloadType = 0x01
	S8  PayloadType = 0x81
	U16 PayloadType = 0x02
	S16 PayloadType = 0x82
	U32 PayloadType = 0x04
	S32 PayloadType = 0x84
	U64 PayloadType = 0x08
	S64 PayloadType = 0x88
	F32 PayloadType = 0x44

	// HasTimestamp is or'd onto a payload type when the message carries a timestamp
	HasTimestamp PayloadType = 0x10
)

// Size is the width of one element of the payload type in bytes
func (p PayloadType) Size() int {
	return int(p & 0x0F)
}

// Base strips the timestamp flag
func (p PayloadType) Base() PayloadType {
	return p &^ HasTimestamp
}

const (
	// DevicePort is the port byte used when talking to the device itself
	DevicePort = 0xFF

	headerSize    = 5 // type, length, address, port, payload type
	timestampSize = 6
	maxLength     = 254

	tickDuration = 32 * time.Microsecond
)

var order = binary.LittleEndian

var (
	// ErrChecksum is returned when a received message fails its checksum
	ErrChecksum = errors.New("checksum mismatch")

	// ErrTooLong is returned when a payload does not fit a single-byte length
	ErrTooLong = errors.New("payload too long for one message")
)

// Message is a decoded Harp message
type Message struct {
	Type        MessageType
	Address     byte
	Port        byte
	PayloadType PayloadType

	// Timestamp is the device clock at the time of the message, only
	// meaningful when PayloadType has HasTimestamp
	Timestamp time.Duration

	Payload []byte
}

// Failed is true when the device flagged the message as an error reply
func (m Message) Failed() bool {
	return m.Type&ErrorFlag != 0
}

// checksum is the 8-bit sum, no carry, of b
func checksum(b []byte) byte {
	var acc byte
	for _, v := range b {
		acc += v
	}
	return acc
}

// Encode renders the message to bytes, appending the checksum
func (m Message) Encode() ([]byte, error) {
	n := 3 + len(m.Payload) + 1 // address, port, payload type, payload, checksum
	if m.PayloadType&HasTimestamp != 0 {
		n += timestampSize
	}
	if n > maxLength {
		return nil, ErrTooLong
	}
	buf := make([]byte, 0, n+2)
	buf = append(buf, byte(m.Type), byte(n), m.Address, m.Port, byte(m.PayloadType))
	if m.PayloadType&HasTimestamp != 0 {
		var ts [timestampSize]byte
		secs := m.Timestamp / time.Second
		ticks := (m.Timestamp - secs*time.Second) / tickDuration
		order.PutUint32(ts[:4], uint32(secs))
		order.PutUint16(ts[4:], uint16(ticks))
		buf = append(buf, ts[:]...)
	}
	buf = append(buf, m.Payload...)
	return append(buf, checksum(buf)), nil
}

// Decode parses one complete message from b
func Decode(b []byte) (Message, error) {
	if len(b) < headerSize+1 {
		return Message{}, fmt.Errorf("message of %d bytes is shorter than a header", len(b))
	}
	if int(b[1]) != len(b)-2 {
		return Message{}, fmt.Errorf("length byte says %d, have %d", b[1], len(b)-2)
	}
	last := len(b) - 1
	if checksum(b[:last]) != b[last] {
		return Message{}, ErrChecksum
	}
	m := Message{
		Type:        MessageType(b[0]),
		Address:     b[2],
		Port:        b[3],
		PayloadType: PayloadType(b[4]),
	}
	body := b[headerSize:last]
	if m.PayloadType&HasTimestamp != 0 {
		if len(body) < timestampSize {
			return Message{}, errors.New("timestamped message is missing its timestamp")
		}
		secs := time.Duration(order.Uint32(body[:4])) * time.Second
		ticks := time.Duration(order.Uint16(body[4:6])) * tickDuration
		m.Timestamp = secs + ticks
		body = body[timestampSize:]
	}
	if sz := m.PayloadType.Size(); sz > 0 && len(body)%sz != 0 {
		return Message{}, fmt.Errorf("payload of %d bytes is not a whole number of %d byte elements", len(body), sz)
	}
	m.Payload = append([]byte(nil), body...)
	return m, nil
}

// ReadMessage reads exactly one message from r
func ReadMessage(r *bufio.Reader) (Message, error) {
	var head [2]byte
	if err := readFull(r, head[:]); err != nil {
		return Message{}, err
	}
	n := int(head[1])
	if n < headerSize-2+1 {
		return Message{}, fmt.Errorf("length byte %d is too small for a message", n)
	}
	buf := make([]byte, 2+n)
	copy(buf, head[:])
	if err := readFull(r, buf[2:]); err != nil {
		return Message{}, err
	}
	return Decode(buf)
}

// maxEmptyReads bounds how many times a read may return nothing before the
// link is treated as silent.  Serial ports with a read timeout return (0, nil)
// on some platforms instead of an error.
const maxEmptyReads = 3

func readFull(r io.Reader, b []byte) error {
	got, empty := 0, 0
	for got < len(b) {
		n, err := r.Read(b[got:])
		got += n
		if got == len(b) {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				if got == 0 {
					return errors.Wrap(io.ErrNoProgress, "no response before read timeout")
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return errors.Wrap(io.ErrNoProgress, "no response before read timeout")
			}
		}
	}
	return nil
}
