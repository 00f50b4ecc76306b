package export

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/treadmill/brakecal/calibrate"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
)

func torquePlot(pts []calibrate.Point, maxCurrent float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Brake Torque vs Input Current"
	p.X.Label.Text = fmt.Sprintf("input current [0:%g%%] Full-Scale Range", maxCurrent)
	p.Y.Label.Text = "brake torque [0:4095] Full-Scale Range w/2048 midscale"
	p.Add(plotter.NewGrid())

	if len(pts) == 0 {
		return p, nil
	}
	xys := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		xys[i].X = float64(pt.InputCurrent)
		xys[i].Y = pt.OutputTorque
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	p.Add(line)
	return p, nil
}

// WritePlot renders torque against input current as a PNG
func WritePlot(w io.Writer, pts []calibrate.Point, maxCurrent float64) error {
	p, err := torquePlot(pts, maxCurrent)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes the plot to path; the format follows the extension
func SavePlot(path string, pts []calibrate.Point, maxCurrent float64) error {
	p, err := torquePlot(pts, maxCurrent)
	if err != nil {
		return err
	}
	return p.Save(plotWidth, plotHeight, path)
}
