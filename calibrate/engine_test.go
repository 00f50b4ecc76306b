package calibrate

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadmill/brakecal/brake"
	"github.com/treadmill/brakecal/comm"
	"github.com/treadmill/brakecal/jrk"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) index(call string) int {
	for i, c := range r.all() {
		if c == call {
			return i
		}
	}
	return -1
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.all() {
		if c == call {
			n++
		}
	}
	return n
}

func (r *recorder) sleeper(ctx context.Context, d time.Duration) error {
	r.add("sleep %v", d)
	return ctx.Err()
}

// recController is a real jrk.Controller over the mock gateway, with its
// calls recorded
type recController struct {
	*jrk.Controller
	rec      *recorder
	speedErr error
}

func (c *recController) ApplySettings(ctx context.Context, s *jrk.Settings) error {
	c.rec.add("apply")
	return c.Controller.ApplySettings(ctx, s)
}

func (c *recController) CommandSignedSpeed(ctx context.Context, percent float64) error {
	c.rec.add("speed %g", percent)
	if c.speedErr != nil && percent == 0 {
		return c.speedErr
	}
	return c.Controller.CommandSignedSpeed(ctx, percent)
}

type fakeBrake struct {
	rec     *recorder
	torques []int32
	reads   int
	sets    int

	// failOnStep makes reads fail once the failOnStep-th setpoint is written
	failOnStep int

	// readAt holds the time of every successful read
	readAt []time.Time

	// onRead is called after the n-th successful read
	onRead func(n int)
}

func (b *fakeBrake) SetBrakeCurrent(raw uint16) error {
	b.sets++
	b.rec.add("brake %d", raw)
	return nil
}

func (b *fakeBrake) ClearOvertorqueFault() error {
	b.rec.add("clear")
	return nil
}

func (b *fakeBrake) ReadMeasurement() (brake.Sample, error) {
	if b.failOnStep > 0 && b.sets >= b.failOnStep {
		return brake.Sample{}, comm.Link("Read register 35", io.ErrUnexpectedEOF)
	}
	t := int32(2048)
	if len(b.torques) > 0 {
		t = b.torques[b.reads%len(b.torques)]
	}
	b.reads++
	b.readAt = append(b.readAt, time.Now())
	if b.onRead != nil {
		b.onRead(b.reads)
	}
	return brake.Sample{Torque: t}, nil
}

// maxFor is the max current percent giving a plan of n steps from zero
func maxFor(n int) float64 {
	return float64(n*Step) * 100 / FullScale
}

type rig struct {
	rec *recorder
	gw  *jrk.Mock
	ctl *recController
	brk *fakeBrake
}

func newRig() *rig {
	rec := &recorder{}
	gw := jrk.NewMock()
	return &rig{
		rec: rec,
		gw:  gw,
		ctl: &recController{Controller: jrk.NewController(gw, quiet()), rec: rec},
		brk: &fakeBrake{rec: rec},
	}
}

func (r *rig) engine(t *testing.T, steps, count int, opts ...Option) *Engine {
	t.Helper()
	p := DefaultParams()
	p.MaxCurrent = maxFor(steps)
	p.SampleAverageCount = count
	p.TimeDelta = 0
	opts = append([]Option{WithLogger(quiet()), WithSleeper(r.rec.sleeper)}, opts...)
	e, err := NewEngine(r.ctl, r.brk, p, opts...)
	require.NoError(t, err)
	require.Equal(t, steps, e.Plan().Len())
	return e
}

func TestPointIsMeanOfSamples(t *testing.T) {
	r := newRig()
	r.brk.torques = []int32{10, 20, 30}
	e := r.engine(t, 1, 3)
	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, Point{InputCurrent: 0, OutputTorque: 20.0}, res.Points[0])
	assert.Equal(t, PhaseDone, res.Phase)
	assert.True(t, res.Complete())
	assert.NoError(t, res.ShutdownErr)
}

func TestFullRunVisitsPlanInOrder(t *testing.T) {
	r := newRig()
	e := r.engine(t, 5, 2)
	res, err := e.Run(context.Background())
	require.NoError(t, err)
	inputs := make([]int, len(res.Points))
	for i, p := range res.Points {
		inputs[i] = p.InputCurrent
	}
	assert.Equal(t, []int{0, 4, 8, 12, 16}, inputs)
	assert.Equal(t, 10, r.brk.reads)
	assert.Equal(t, PhaseDone, e.Status().Phase)
	assert.Equal(t, 5, e.Status().Done)
}

func TestCancelKeepsCollectedPoints(t *testing.T) {
	r := newRig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := r.engine(t, 5, 3, WithProgress(func(done, total int, p Point) {
		if done == 2 {
			cancel()
		}
	}))

	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, PhaseAborted, res.Phase)
	require.Len(t, res.Points, 2)
	assert.Equal(t, 0, res.Points[0].InputCurrent)
	assert.Equal(t, 4, res.Points[1].InputCurrent)

	calls := r.rec.all()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, []string{"speed 0", "brake 0"}, calls[len(calls)-2:])
	assert.Greater(t, r.rec.index("speed 0"), r.rec.index("brake 4"))
	assert.Equal(t, 0, r.gw.Speed())
}

func TestSamplesArePacedAndCancellable(t *testing.T) {
	const dt = 20 * time.Millisecond
	r := newRig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.brk.onRead = func(n int) {
		if n == 7 {
			cancel()
		}
	}
	p := DefaultParams()
	p.MaxCurrent = maxFor(5)
	p.SampleAverageCount = 3
	p.TimeDelta = dt
	e, err := NewEngine(r.ctl, r.brk, p, WithLogger(quiet()), WithSleeper(r.rec.sleeper))
	require.NoError(t, err)

	start := time.Now()
	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.Len(t, res.Points, 2)

	calls := r.rec.all()
	assert.Equal(t, []string{"speed 0", "brake 0"}, calls[len(calls)-2:])

	// timers fire late, never early; allow the previous read's lag
	const slack = 5 * time.Millisecond
	require.Len(t, r.brk.readAt, 7)
	assert.GreaterOrEqual(t, r.brk.readAt[0].Sub(start), dt-time.Millisecond)
	for i := 1; i < len(r.brk.readAt); i++ {
		gap := r.brk.readAt[i].Sub(r.brk.readAt[i-1])
		assert.GreaterOrEqual(t, gap, dt-slack, "read %d came %v after the previous one", i+1, gap)
	}
	assert.GreaterOrEqual(t, r.brk.readAt[6].Sub(start), 7*dt-time.Millisecond)
}

func TestLinkErrorAbortsAndShutsDown(t *testing.T) {
	r := newRig()
	r.brk.failOnStep = 3
	e := r.engine(t, 5, 3)

	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, comm.ErrLink))
	assert.False(t, res.Cancelled)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.Len(t, res.Points, 2)

	calls := r.rec.all()
	assert.Equal(t, []string{"speed 0", "brake 0"}, calls[len(calls)-2:])
	assert.Equal(t, PhaseAborted, e.Status().Phase)
	assert.NotEmpty(t, e.Status().Error)
}

func TestOvertorqueClearedOnceAfterSettleBeforeSweep(t *testing.T) {
	r := newRig()
	e := r.engine(t, 3, 1)
	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, r.rec.count("clear"))
	apply := r.rec.index("apply")
	settle := r.rec.index("sleep 100ms")
	clear := r.rec.index("clear")
	firstSet := r.rec.index("brake 0")
	assert.True(t, apply < settle && settle < clear && clear < firstSet,
		"want apply < settle < clear < first brake write, got %v", r.rec.all())
	assert.True(t, r.rec.index("speed 100") < r.rec.index("sleep 1s"))
	assert.True(t, r.rec.index("sleep 1s") < firstSet)
}

func TestReverseSpinsMotorBackwards(t *testing.T) {
	r := newRig()
	p := DefaultParams()
	p.MaxCurrent = maxFor(1)
	p.SampleAverageCount = 1
	p.TimeDelta = 0
	p.Reverse = true
	e, err := NewEngine(r.ctl, r.brk, p, WithLogger(quiet()), WithSleeper(r.rec.sleeper))
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{-600, 0}, r.gw.Speeds)
}

func TestConfigureIsIdempotent(t *testing.T) {
	r := newRig()
	e := r.engine(t, 1, 1)
	for i := 1; i <= 2; i++ {
		require.NoError(t, e.Configure(context.Background()))
		s, err := r.gw.Active()
		require.NoError(t, err)
		assert.True(t, s.OpenLoop(), "pass %d", i)
		assert.Zero(t, s.SoftCurrentLimitForward, "pass %d", i)
		assert.Zero(t, s.SoftCurrentLimitReverse, "pass %d", i)
		assert.Equal(t, i, r.gw.Reinits())
	}
}

func TestShutdownFailureIsRecordedNotReturned(t *testing.T) {
	r := newRig()
	r.ctl.speedErr = comm.DeviceUnavailable("command speed", errors.New("unplugged"))
	e := r.engine(t, 2, 1)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.Phase)
	require.Error(t, res.ShutdownErr)
	assert.True(t, errors.Is(res.ShutdownErr, comm.ErrDeviceUnavailable))
	assert.Equal(t, "brake 0", r.rec.all()[len(r.rec.all())-1])
}

func TestConfigureFailureStillShutsDown(t *testing.T) {
	r := newRig()
	r.gw.SetOffline(true)
	e := r.engine(t, 2, 1)

	res, err := e.Run(context.Background())
	assert.True(t, errors.Is(err, comm.ErrDeviceUnavailable))
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.Empty(t, res.Points)
	assert.Error(t, res.ShutdownErr)
	assert.Equal(t, -1, r.rec.index("clear"))
	assert.Equal(t, []string{"speed 0", "brake 0"}, r.rec.all())
}

func TestCancelBeforeStartIsNotAnError(t *testing.T) {
	r := newRig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := r.engine(t, 2, 1)
	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.Empty(t, res.Points)
	assert.Equal(t, 0, r.gw.Speed())
}

func TestEngineRunsOnce(t *testing.T) {
	r := newRig()
	e := r.engine(t, 1, 1)
	_, err := e.Run(context.Background())
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	assert.Error(t, err)
}

func TestWithRealBoardAndMocks(t *testing.T) {
	gw := jrk.NewMock()
	board := brake.NewMock(gw.Speed)
	p := DefaultParams()
	p.MaxCurrent = 1
	p.SampleAverageCount = 2
	p.TimeDelta = 0
	p.SettleDelay = 0
	p.SpinUpDelay = 0
	e, err := NewEngine(jrk.NewController(gw, quiet()), brake.NewBoard(board, quiet()), p, WithLogger(quiet()))
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Complete())
	assert.False(t, board.Latched())
	assert.Zero(t, board.BrakeCurrent())
	assert.Equal(t, 0, gw.Speed())
	for i := 1; i < len(res.Points); i++ {
		assert.GreaterOrEqual(t, res.Points[i].OutputTorque, res.Points[i-1].OutputTorque)
	}
	last := res.Points[len(res.Points)-1]
	assert.Equal(t, float64(board.Torque(uint16(last.InputCurrent), jrk.SpeedFullScale)), last.OutputTorque)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	bad := []func(*Params){
		func(p *Params) { p.SampleAverageCount = 0 },
		func(p *Params) { p.TimeDelta = -time.Millisecond },
		func(p *Params) { p.SpinUpDelay = -time.Second },
		func(p *Params) { p.ShutdownTimeout = 0 },
		func(p *Params) { p.MaxCurrent = 120 },
		func(p *Params) { p.MinCurrent = 50 },
	}
	for i, mod := range bad {
		p := DefaultParams()
		mod(&p)
		assert.Error(t, p.Validate(), "case %d", i)
		_, err := NewEngine(nil, nil, p)
		assert.Error(t, err, "case %d", i)
	}
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
