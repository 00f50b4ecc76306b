package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/treadmill/brakecal/brake"
	"github.com/treadmill/brakecal/calibrate"
	"github.com/treadmill/brakecal/comm"
	"github.com/treadmill/brakecal/config"
	"github.com/treadmill/brakecal/export"
	"github.com/treadmill/brakecal/harp"
	"github.com/treadmill/brakecal/jrk"
	"github.com/treadmill/brakecal/server"
	"github.com/treadmill/brakecal/util"
)

func addRunFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.String("port", d.Port, "Harp treadmill board serial port")
	fs.Int("baud", d.Baud, "serial baud rate")
	fs.Float64("read_timeout", d.ReadTimeout, "seconds to wait for each reply from the board")
	fs.String("jrk2cmd", d.Jrk2Cmd, "path to Pololu's jrk2cmd utility")
	fs.String("controller_serial", d.ControllerSerial, "serial number of the motor controller, if several are connected")
	fs.Float64("min_current", d.MinCurrent, "minimum current value in percent of full scale range")
	fs.Float64("max_current", d.MaxCurrent, "maximum current value in percent of full scale range")
	fs.Int("sample_average_count", d.SampleAverageCount, "number of samples to average together *per* data point")
	fs.Float64("time_delta", d.TimeDelta, "time (in seconds) between collecting samples to average")
	fs.Bool("reverse", d.Reverse, "drive the motor in reverse")
	fs.Float64("settle_delay", d.SettleDelay, "seconds to wait after reinitializing the motor controller")
	fs.Float64("spin_up_delay", d.SpinUpDelay, "seconds to let the motor reach full speed")
	fs.Float64("shutdown_timeout", d.ShutdownTimeout, "seconds allowed for zeroing the motor and brake")
	fs.String("output_file", d.OutputFile, "text table of input current, output torque")
	fs.String("fits_file", d.FITSFile, "FITS table of the result")
	fs.String("plot_file", d.PlotFile, "plot of torque against input current, e.g. torque.png")
	fs.String("listen", d.Listen, "address to serve run status on, e.g. :8000")
	fs.Bool("mock", d.Mock, "use simulated hardware")
}

// NewRunCommand runs a calibration sweep
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a brake calibration sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCalibration(ctx, c, cmd.OutOrStdout(), logrus.StandardLogger())
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

type hardware struct {
	ctl   *jrk.Controller
	board *brake.Board
	close func() error
}

func openHardware(c config.Config, log logrus.FieldLogger) (*hardware, error) {
	var (
		gw     jrk.Gateway
		link   brake.Link
		closer = func() error { return nil }
	)
	if c.Mock {
		log.Warn("using simulated hardware")
		mock := jrk.NewMock()
		gw = mock
		link = brake.NewMock(mock.Speed)
	} else {
		conf := comm.SerialConf(c.Port, c.Baud, util.SecsToDuration(c.ReadTimeout))
		conn, err := comm.OpenSerial(conf, comm.DefaultOpener)
		if err != nil {
			return nil, err
		}
		dev := harp.NewDevice(conn, log.WithField("device", "harp"))
		link, closer = dev, dev.Close
		gw = &jrk.Jrk2Cmd{Path: c.Jrk2Cmd, Serial: c.ControllerSerial, Log: log}
	}

	board := brake.NewBoard(link, log)
	id, err := board.WhoAmI()
	if err != nil {
		closer()
		return nil, comm.DeviceUnavailable("identify board on "+c.Port, err)
	}
	log.WithFields(logrus.Fields{"port": c.Port, "whoAmI": id}).Info("treadmill board connected")
	return &hardware{ctl: jrk.NewController(gw, log), board: board, close: closer}, nil
}

func runCalibration(ctx context.Context, c config.Config, out io.Writer, log logrus.FieldLogger) error {
	hw, err := openHardware(c, log)
	if err != nil {
		color.New(color.FgRed).Fprintln(out, "Cannot connect to Harp Treadmill device! Is it plugged in and powered on? Is the com port correct?")
		return err
	}
	defer hw.close()

	params := c.Params()
	prog := newProgress(out, log)
	eng, err := calibrate.NewEngine(hw.ctl, hw.board, params,
		calibrate.WithLogger(log),
		calibrate.WithProgress(prog.update))
	if err != nil {
		return err
	}

	eta := eng.Plan().EstimatedDuration(params.SampleAverageCount, params.TimeDelta)
	fmt.Fprintf(out, "Calibration will take at least %d minutes.\n", int(math.Round(eta.Minutes())))

	if c.Listen != "" {
		srvCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := server.ListenAndServe(srvCtx, c.Listen, server.NewRouter(eng, log), log); err != nil {
				log.WithError(err).Error("status server stopped")
			}
		}()
	}

	prog.start(eng.Plan().Len())
	res, runErr := eng.Run(ctx)
	prog.stop(res)

	exportErr := exportResult(c, res, log)
	summarize(out, res, runErr)
	return multierr.Combine(runErr, exportErr)
}

// exportResult writes every configured output; partial results are written
// too
func exportResult(c config.Config, res *calibrate.Result, log logrus.FieldLogger) error {
	meta := export.Meta{
		MinCurrent:         c.MinCurrent,
		MaxCurrent:         c.MaxCurrent,
		SampleAverageCount: c.SampleAverageCount,
		TimeDelta:          util.SecsToDuration(c.TimeDelta),
		Reverse:            c.Reverse,
	}
	var errs error
	write := func(path string, f func() error) {
		if path == "" {
			return
		}
		if err := f(); err != nil {
			errs = multierr.Append(errs, err)
			return
		}
		log.WithFields(logrus.Fields{"file": path, "points": len(res.Points)}).Info("result saved")
	}
	write(c.OutputFile, func() error { return export.SaveTable(c.OutputFile, res.Points) })
	write(c.FITSFile, func() error { return export.SaveFITS(c.FITSFile, res, meta) })
	write(c.PlotFile, func() error { return export.SavePlot(c.PlotFile, res.Points, c.MaxCurrent) })
	return errs
}

func summarize(out io.Writer, res *calibrate.Result, runErr error) {
	bold := color.New(color.Bold)
	n, planned := len(res.Points), res.Planned
	elapsed := res.Finished.Sub(res.Started).Round(time.Second)
	switch {
	case runErr != nil:
		color.New(color.FgRed, color.Bold).Fprintf(out, "Calibration aborted after %d of %d points: %v\n", n, planned, runErr)
	case res.Cancelled:
		color.New(color.FgYellow, color.Bold).Fprintf(out, "Calibration cancelled after %d of %d points.\n", n, planned)
	default:
		color.New(color.FgGreen, color.Bold).Fprintf(out, "Calibration complete: %d points in %v.\n", n, elapsed)
	}
	if res.ShutdownErr != nil {
		color.New(color.FgRed).Fprintf(out, "Zeroing the motor and brake failed: %v\n", res.ShutdownErr)
		bold.Fprintln(out, "Check that the motor is stopped and the brake is off before touching the treadmill.")
	}
}
