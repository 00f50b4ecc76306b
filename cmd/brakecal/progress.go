package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"
	"golang.org/x/term"

	"github.com/treadmill/brakecal/calibrate"
)

// logEvery is how many points pass between progress log lines when there is
// no terminal to draw a spinner on
const logEvery = 100

// progress reports sweep progress on a spinner when stdout is a terminal, and
// in the log otherwise
type progress struct {
	out     io.Writer
	log     logrus.FieldLogger
	spinner *yacspin.Spinner
}

func newProgress(out io.Writer, log logrus.FieldLogger) *progress {
	p := &progress{out: out, log: log}
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return p
	}
	spinner, err := yacspin.New(yacspin.Config{
		Writer:            out,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " sweeping",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.WithError(err).Debug("no progress spinner")
		return p
	}
	p.spinner = spinner
	return p
}

func (p *progress) start(total int) {
	if p.spinner == nil {
		return
	}
	p.spinner.Message(fmt.Sprintf("0/%d", total))
	if err := p.spinner.Start(); err != nil {
		p.spinner = nil
	}
}

func (p *progress) update(done, total int, pt calibrate.Point) {
	if p.spinner != nil {
		p.spinner.Message(fmt.Sprintf("%d/%d  input %d  torque %.1f", done, total, pt.InputCurrent, pt.OutputTorque))
		return
	}
	if done%logEvery == 0 || done == total {
		p.log.WithFields(logrus.Fields{"done": done, "total": total, "torque": pt.OutputTorque}).Info("sweep progress")
	}
}

func (p *progress) stop(res *calibrate.Result) {
	if p.spinner == nil {
		return
	}
	msg := fmt.Sprintf("%d/%d points", len(res.Points), res.Planned)
	if res.Phase == calibrate.PhaseDone {
		p.spinner.StopMessage(msg)
		p.spinner.Stop()
		return
	}
	p.spinner.StopFailMessage(msg)
	p.spinner.StopFail()
}
