package harp

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/treadmill/brakecal/comm"
)

const (
	// RegWhoAmI holds the device identifier, common to all Harp devices
	RegWhoAmI = 0

	// DefaultBaud is the baud rate Harp devices use over USB serial
	DefaultBaud = 1000000

	// maxSkippedEvents bounds how many unsolicited event messages are
	// discarded while waiting for a reply
	maxSkippedEvents = 256
)

// Device is a Harp device reached over a byte stream, typically a serial port.
//
// Only one transaction is ever in flight; concurrent callers are serialized.
type Device struct {
	mu   sync.Mutex
	conn io.ReadWriter
	r    *bufio.Reader
	log  logrus.FieldLogger
}

// NewDevice wraps an already-open connection
func NewDevice(conn io.ReadWriter, log logrus.FieldLogger) *Device {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Device{conn: conn, r: bufio.NewReader(conn), log: log}
}

// Close closes the underlying connection if it can be closed
func (d *Device) Close() error {
	if c, ok := d.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// transact writes req and returns the first non-event reply.  Any failure is
// a comm.ErrLink.
func (d *Device) transact(req Message) (Message, error) {
	op := fmt.Sprintf("%s register %d", req.Type, req.Address)
	frame, err := req.Encode()
	if err != nil {
		return Message{}, comm.Link(op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.log.WithFields(logrus.Fields{
		"type":     req.Type,
		"register": req.Address,
		"frame":    fmt.Sprintf("% X", frame),
	}).Trace("harp send")
	n, err := d.conn.Write(frame)
	if err != nil {
		return Message{}, comm.Link(op, err)
	}
	if n != len(frame) {
		return Message{}, comm.Link(op, fmt.Errorf("device accepted %d of %d bytes", n, len(frame)))
	}

	for i := 0; i < maxSkippedEvents; i++ {
		resp, err := ReadMessage(d.r)
		if err != nil {
			// drop buffered bytes so a late reply is not read as the next one
			d.r.Reset(d.conn)
			return Message{}, comm.Link(op, err)
		}
		if resp.Type == Event {
			continue
		}
		if resp.Address != req.Address {
			d.r.Reset(d.conn)
			return Message{}, comm.Link(op, fmt.Errorf("reply was for register %d", resp.Address))
		}
		if resp.Failed() {
			return Message{}, comm.Link(op, fmt.Errorf("device replied %s", resp.Type))
		}
		if resp.Type != req.Type {
			return Message{}, comm.Link(op, fmt.Errorf("expected %s reply, got %s", req.Type, resp.Type))
		}
		d.log.WithFields(logrus.Fields{
			"register": resp.Address,
			"payload":  fmt.Sprintf("% X", resp.Payload),
		}).Trace("harp recv")
		return resp, nil
	}
	return Message{}, comm.Link(op, fmt.Errorf("no reply among %d event messages", maxSkippedEvents))
}

// Read returns the raw payload of a register
func (d *Device) Read(address byte, typ PayloadType) ([]byte, error) {
	resp, err := d.transact(Message{Type: Read, Address: address, Port: DevicePort, PayloadType: typ})
	if err != nil {
		return nil, err
	}
	if resp.PayloadType.Base() != typ {
		return nil, comm.Link(fmt.Sprintf("Read register %d", address),
			fmt.Errorf("register holds payload type %#x, asked for %#x", byte(resp.PayloadType.Base()), byte(typ)))
	}
	return resp.Payload, nil
}

// Write sets a register to a raw payload
func (d *Device) Write(address byte, typ PayloadType, payload []byte) error {
	_, err := d.transact(Message{Type: Write, Address: address, Port: DevicePort, PayloadType: typ, Payload: payload})
	return err
}
