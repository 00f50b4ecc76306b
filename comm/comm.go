/*Package comm opens the serial links used to talk to lab hardware and defines
the classes of failure those links can produce.

Most usages of this package will boil down to:
	1.  build a serial.Config with SerialConf
	2.  open it with OpenSerial, which retries briefly while the OS enumerates
		a freshly plugged device
	3.  wrap any failure of a later transaction with Link, DeviceUnavailable
		or Configuration so callers can tell the classes apart with errors.Is

Only opening is ever retried.  Once a device has been opened its state is
owned by the caller, and repeating a command against hardware in an unknown
state is not safe.
*/
package comm

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// SerialConf makes a new serial config for an 8N1 port with the given read
// timeout.  A read that sees no data for timeout returns early, which is what
// bounds every transaction on the link.
func SerialConf(addr string, baud int, timeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: timeout}
}

// Opener opens a serial port.  It exists so OpenSerial can be driven without
// real hardware.
type Opener func(*serial.Config) (io.ReadWriteCloser, error)

// DefaultOpener opens a real port with tarm/serial.
func DefaultOpener(conf *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(conf)
}

// OpenSerial opens the port described by conf.  It uses an exponential
// backoff for up to three seconds, because a USB CDC device that was just
// plugged in may not be openable yet.  Errors that cannot resolve themselves
// (missing device node, permission denied) stop the retry immediately.
//
// Any failure is returned as ErrDeviceUnavailable.
func OpenSerial(conf *serial.Config, open Opener) (io.ReadWriteCloser, error) {
	if open == nil {
		open = DefaultOpener
	}
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := open(conf)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, DeviceUnavailable("open "+conf.Name, err)
	}
	return conn, nil
}

func permanent(err error) bool {
	if os.IsNotExist(err) || os.IsPermission(err) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "no such") || strings.Contains(s, "denied")
}
