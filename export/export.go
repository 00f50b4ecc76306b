// Package export writes calibration results to disk: a plain text table for
// the brake linearization tooling, a FITS binary table carrying the run
// parameters, and a PNG plot for a quick look.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/treadmill/brakecal/calibrate"
)

// Meta describes the run that produced a result
type Meta struct {
	MinCurrent         float64
	MaxCurrent         float64
	SampleAverageCount int
	TimeDelta          time.Duration
	Reverse            bool
}

// WriteTable writes one "input, torque" row per point, both in %1.6f
func WriteTable(w io.Writer, pts []calibrate.Point) error {
	bw := bufio.NewWriter(w)
	for _, p := range pts {
		if _, err := fmt.Fprintf(bw, "%1.6f, %1.6f\n", float64(p.InputCurrent), p.OutputTorque); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveTable writes the table to path, replacing any existing file
func SaveTable(path string, pts []calibrate.Point) error {
	return save(path, func(w io.Writer) error { return WriteTable(w, pts) })
}

func save(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
