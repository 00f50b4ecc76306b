package calibrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"github.com/treadmill/brakecal/brake"
	"github.com/treadmill/brakecal/jrk"
)

// Controller is the motor controller driving the brake.  *jrk.Controller
// satisfies it.
type Controller interface {
	ReadSettings(ctx context.Context) (*jrk.Settings, error)
	ApplySettings(ctx context.Context, s *jrk.Settings) error
	CommandSignedSpeed(ctx context.Context, percent float64) error
}

// Brake is the sensor and brake board.  *brake.Board satisfies it.
type Brake interface {
	SetBrakeCurrent(raw uint16) error
	ClearOvertorqueFault() error
	ReadMeasurement() (brake.Sample, error)
}

// Params are the run parameters
type Params struct {
	// MinCurrent and MaxCurrent bound the sweep, percent of full scale
	MinCurrent float64
	MaxCurrent float64

	// SampleAverageCount torque samples are averaged per setpoint
	SampleAverageCount int

	// TimeDelta spaces the samples
	TimeDelta time.Duration

	// Reverse drives the motor backwards
	Reverse bool

	// SettleDelay follows reinitializing the controller
	SettleDelay time.Duration

	// SpinUpDelay lets the motor reach full speed before sweeping
	SpinUpDelay time.Duration

	// ShutdownTimeout bounds the zeroing commands
	ShutdownTimeout time.Duration
}

// DefaultParams returns the parameters used when none are given
func DefaultParams() Params {
	return Params{
		MinCurrent:         0,
		MaxCurrent:         40,
		SampleAverageCount: 30,
		TimeDelta:          10 * time.Millisecond,
		SettleDelay:        100 * time.Millisecond,
		SpinUpDelay:        time.Second,
		ShutdownTimeout:    5 * time.Second,
	}
}

// Validate checks p for values the engine cannot run with
func (p Params) Validate() error {
	switch {
	case p.SampleAverageCount < 1:
		return fmt.Errorf("sample average count must be at least 1, got %d", p.SampleAverageCount)
	case p.TimeDelta < 0:
		return fmt.Errorf("time delta must not be negative, got %v", p.TimeDelta)
	case p.SettleDelay < 0 || p.SpinUpDelay < 0:
		return fmt.Errorf("delays must not be negative, got settle %v and spin up %v", p.SettleDelay, p.SpinUpDelay)
	case p.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive, got %v", p.ShutdownTimeout)
	}
	_, err := NewPlan(p.MinCurrent, p.MaxCurrent)
	return err
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ProgressFunc is called after each point is recorded
type ProgressFunc func(done, total int, p Point)

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithSleeper replaces the settle and spin up waits
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithProgress registers a progress callback
func WithProgress(f ProgressFunc) Option {
	return func(e *Engine) { e.progress = f }
}

// Status is a snapshot of a run in progress
type Status struct {
	Phase     Phase     `json:"phase"`
	Done      int       `json:"done"`
	Planned   int       `json:"planned"`
	Setpoint  int       `json:"setpoint"`
	Started   time.Time `json:"started"`
	Cancelled bool      `json:"cancelled"`
	Error     string    `json:"error,omitempty"`
}

// Engine runs one calibration sweep.  It is not reusable.
type Engine struct {
	ctl      Controller
	brk      Brake
	params   Params
	plan     Plan
	log      logrus.FieldLogger
	sleep    Sleeper
	progress ProgressFunc

	mu     sync.Mutex
	status Status
	points []Point
	ran    bool
}

// NewEngine returns an Engine driving ctl and brk
func NewEngine(ctl Controller, brk Brake, params Params, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid calibration parameters")
	}
	plan, err := NewPlan(params.MinCurrent, params.MaxCurrent)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		ctl:    ctl,
		brk:    brk,
		params: params,
		plan:   plan,
		log:    logrus.StandardLogger(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status = Status{Phase: PhaseIdle, Planned: plan.Len()}
	return e, nil
}

// Plan returns the setpoints the engine will visit
func (e *Engine) Plan() Plan {
	return e.plan
}

// Status returns a snapshot of the run
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Points returns a copy of the points recorded so far
func (e *Engine) Points() []Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Point(nil), e.points...)
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.status.Phase = p
	e.mu.Unlock()
	e.log.WithField("phase", p).Debug("calibration phase")
}

// Configure puts the controller in open loop with no software current limit
// and clears the board's overtorque latch once the controller has settled.
// It leaves the hardware in the same state however often it is called.
func (e *Engine) Configure(ctx context.Context) error {
	e.log.Info("reading motor controller settings")
	s, err := e.ctl.ReadSettings(ctx)
	if err != nil {
		return err
	}
	s.SetOpenLoopMode()
	s.SetCurrentLimit(0)
	e.log.Info("writing motor controller settings")
	if err := e.ctl.ApplySettings(ctx, s); err != nil {
		return err
	}
	if err := e.sleep(ctx, e.params.SettleDelay); err != nil {
		return err
	}
	return e.brk.ClearOvertorqueFault()
}

// Run configures the hardware and sweeps the plan.  The motor speed and brake
// current are zeroed before Run returns, on every path.
//
// A cancelled ctx is not an error: the result holds the points collected so
// far and has Cancelled set.  Hardware failures abort the run and are
// returned alongside the partial result.
func (e *Engine) Run(ctx context.Context) (res *Result, err error) {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return nil, errors.New("calibration engine already ran")
	}
	e.ran = true
	e.mu.Unlock()

	res = &Result{Planned: e.plan.Len(), Started: time.Now()}
	e.mu.Lock()
	e.status.Started = res.Started
	e.mu.Unlock()
	e.log.WithField("start", res.Started.Format("2006-01-02, 03:04 PM")).Info("starting calibration")

	release := e.armBrake(ctx)
	defer func() {
		e.setPhase(PhaseShutdown)
		res.ShutdownErr = release()
		res.Points = e.Points()
		res.Finished = time.Now()
		if err == nil && !res.Cancelled && res.Complete() {
			res.Phase = PhaseDone
		} else {
			res.Phase = PhaseAborted
		}
		e.mu.Lock()
		e.status.Cancelled = res.Cancelled
		if err != nil {
			e.status.Error = err.Error()
		}
		e.mu.Unlock()
		e.setPhase(res.Phase)
	}()

	e.setPhase(PhaseConfiguring)
	if err := e.Configure(ctx); err != nil {
		return res, e.interrupted(ctx, res, err)
	}

	e.setPhase(PhaseRamping)
	if err := e.ramp(ctx); err != nil {
		return res, e.interrupted(ctx, res, err)
	}

	e.setPhase(PhaseSweeping)
	if err := e.sweep(ctx); err != nil {
		return res, e.interrupted(ctx, res, err)
	}
	return res, nil
}

// interrupted turns a failure caused by ctx ending into a cancellation
func (e *Engine) interrupted(ctx context.Context, res *Result, err error) error {
	if ctx.Err() != nil {
		res.Cancelled = true
		e.log.WithError(err).Warn("calibration cancelled, keeping points collected so far")
		return nil
	}
	e.log.WithError(err).Error("calibration aborted")
	return err
}

func (e *Engine) ramp(ctx context.Context) error {
	speed := 100.
	if e.params.Reverse {
		speed = -100.
	}
	e.log.WithField("percent", speed).Info("spinning up drive motor")
	if err := e.ctl.CommandSignedSpeed(ctx, speed); err != nil {
		return err
	}
	return e.sleep(ctx, e.params.SpinUpDelay)
}

func (e *Engine) sweep(ctx context.Context) error {
	count := e.params.SampleAverageCount
	e.log.WithFields(logrus.Fields{
		"setpoints": e.plan.Len(),
		"samples":   count,
		"eta":       e.plan.EstimatedDuration(count, e.params.TimeDelta).Round(time.Second),
	}).Info("sweeping brake current")

	torques := make([]float64, count)
	for i := 0; i < e.plan.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := e.plan.At(i)
		if err := e.brk.SetBrakeCurrent(c); err != nil {
			return err
		}
		e.mu.Lock()
		e.status.Setpoint = int(c)
		e.mu.Unlock()

		pace := e.pacer()
		for j := range torques {
			if err := pace.Wait(ctx); err != nil {
				return err
			}
			s, err := e.brk.ReadMeasurement()
			if err != nil {
				return err
			}
			torques[j] = float64(s.Torque)
		}
		e.record(Point{InputCurrent: int(c), OutputTorque: stat.Mean(torques, nil)})
	}
	return nil
}

// pacer spaces samples TimeDelta apart, the first one TimeDelta after the
// call
func (e *Engine) pacer() *rate.Limiter {
	lim := rate.NewLimiter(rate.Every(e.params.TimeDelta), 1)
	lim.Allow()
	return lim
}

func (e *Engine) record(p Point) {
	e.mu.Lock()
	e.points = append(e.points, p)
	e.status.Done = len(e.points)
	done := e.status.Done
	e.mu.Unlock()
	e.log.WithFields(logrus.Fields{"input": p.InputCurrent, "torque": p.OutputTorque}).Trace("point recorded")
	if e.progress != nil {
		e.progress(done, e.plan.Len(), p)
	}
}

// armBrake returns the release for a live brake: zero motor speed, then zero
// brake current.  Both are attempted whatever the other does, and ctx ending
// does not stop them.  Failures are logged and returned, never retried.
func (e *Engine) armBrake(ctx context.Context) (release func() error) {
	return func() error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.params.ShutdownTimeout)
		defer cancel()

		e.log.Info("zeroing motor speed and brake current")
		var errs error
		if err := e.ctl.CommandSignedSpeed(ctx, 0); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "zero motor speed"))
		}
		if err := e.brk.SetBrakeCurrent(0); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "zero brake current"))
		}
		if errs != nil {
			e.log.WithError(errs).Error("shutdown incomplete, the motor or brake may still be energized")
		}
		return errs
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
