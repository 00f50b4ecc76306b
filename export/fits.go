package export

import (
	"io"

	"github.com/astrogo/fitsio"

	"github.com/treadmill/brakecal/calibrate"
)

// TableName is the extension name of the FITS calibration table
const TableName = "BRAKECAL"

// WriteFITS streams res as a FITS file: an empty primary image whose header
// carries the run parameters, then a binary table of
// (INPUT_CURRENT int64, OUTPUT_TORQUE float64) rows
func WriteFITS(w io.Writer, res *calibrate.Result, meta Meta) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(8, []int{})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "DATE-OBS", Value: res.Started.UTC().Format("2006-01-02T15:04:05"), Comment: "sweep start, UTC"},
		fitsio.Card{Name: "MINCURR", Value: meta.MinCurrent, Comment: "minimum current, % full scale"},
		fitsio.Card{Name: "MAXCURR", Value: meta.MaxCurrent, Comment: "maximum current, % full scale"},
		fitsio.Card{Name: "NAVG", Value: meta.SampleAverageCount, Comment: "samples averaged per point"},
		fitsio.Card{Name: "TDELTA", Value: meta.TimeDelta.Seconds(), Comment: "seconds between samples"},
		fitsio.Card{Name: "REVERSE", Value: meta.Reverse, Comment: "motor driven in reverse"},
		fitsio.Card{Name: "NPLANNED", Value: res.Planned, Comment: "setpoints in the sweep plan"},
		fitsio.Card{Name: "COMPLETE", Value: res.Complete(), Comment: "every setpoint measured"},
		fitsio.Card{Name: "PHASE", Value: string(res.Phase), Comment: "terminal phase"},
	)
	if err != nil {
		return err
	}
	if err = im.Write([]byte{}); err != nil {
		return err
	}
	if err = fits.Write(im); err != nil {
		return err
	}

	cols := []fitsio.Column{
		{Name: "INPUT_CURRENT", Format: "K"},
		{Name: "OUTPUT_TORQUE", Format: "D"},
	}
	tbl, err := fitsio.NewTable(TableName, cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	for _, p := range res.Points {
		in, out := int64(p.InputCurrent), p.OutputTorque
		if err = tbl.Write(&in, &out); err != nil {
			return err
		}
	}
	return fits.Write(tbl)
}

// SaveFITS writes the FITS file to path
func SaveFITS(path string, res *calibrate.Result, meta Meta) error {
	return save(path, func(w io.Writer) error { return WriteFITS(w, res, meta) })
}
