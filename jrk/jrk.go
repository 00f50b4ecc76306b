// Package jrk configures and commands a Pololu Jrk G2 motor controller
// through its settings gateway, normally the jrk2cmd utility.
//
// The controller drives the treadmill motor that loads the magnetic brake.
// For calibration it is placed in open loop with no software current limit,
// and commanded by raw signed speed.
package jrk

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/treadmill/brakecal/comm"
	"github.com/treadmill/brakecal/util"
)

// SpeedFullScale is the magnitude of the native speed at ±100%
const SpeedFullScale = 600

// Gateway reaches the controller's persisted configuration and its live
// speed command
type Gateway interface {
	// GetSettings returns the persisted settings as YAML
	GetSettings(ctx context.Context) ([]byte, error)

	// SetSettings commits YAML settings to the controller
	SetSettings(ctx context.Context, settings []byte) error

	// Reinitialize makes the controller load its persisted settings
	Reinitialize(ctx context.Context) error

	// SetSpeed commands a native signed speed
	SetSpeed(ctx context.Context, speed int) error
}

// CurrentLimitFromPercent maps [0, 100] percent of full scale onto the raw
// soft current limit, rounding to nearest.  Out of range inputs are clamped.
func CurrentLimitFromPercent(percent float64) uint16 {
	percent = util.Clamp(percent, 0, 100)
	return uint16(math.Round(CurrentLimitFullScale * percent / 100))
}

// SpeedFromPercent maps [-100, 100] percent onto the native speed range,
// rounding half away from zero so that SpeedFromPercent(-p) == -SpeedFromPercent(p)
func SpeedFromPercent(percent float64) int {
	percent = util.Clamp(percent, -100, 100)
	return int(math.Round(percent * SpeedFullScale / 100))
}

// Controller is a Jrk G2 reached through a Gateway.  It never retries: a
// failed command leaves the hardware in an unknown state and the caller has
// to decide what is safe.
type Controller struct {
	gw  Gateway
	log logrus.FieldLogger
}

// NewController returns a Controller using gw
func NewController(gw Gateway, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{gw: gw, log: log.WithField("device", "jrk")}
}

// ReadSettings fetches and validates the persisted settings
func (c *Controller) ReadSettings(ctx context.Context) (*Settings, error) {
	b, err := c.gw.GetSettings(ctx)
	if err != nil {
		return nil, comm.DeviceUnavailable("read controller settings", err)
	}
	s, err := ParseSettings(b)
	if err != nil {
		return nil, comm.Configuration("parse controller settings", err)
	}
	product, _ := s.Get("product")
	c.log.WithFields(logrus.Fields{
		"product":                 product,
		"feedbackMode":            s.FeedbackMode,
		"softCurrentLimitForward": s.SoftCurrentLimitForward,
		"softCurrentLimitReverse": s.SoftCurrentLimitReverse,
	}).Debug("controller settings read")
	return s, nil
}

// ApplySettings commits s and reinitializes the controller so it takes
// effect.  Reinitializing resets the controller's internal state machines;
// callers must let it settle before the next command.
func (c *Controller) ApplySettings(ctx context.Context, s *Settings) error {
	b, err := s.Marshal()
	if err != nil {
		return comm.Configuration("serialize controller settings", err)
	}
	if err := c.gw.SetSettings(ctx, b); err != nil {
		return comm.Configuration("write controller settings", err)
	}
	if err := c.gw.Reinitialize(ctx); err != nil {
		return comm.DeviceUnavailable("reinitialize controller", err)
	}
	product, _ := s.Get("product")
	c.log.WithFields(logrus.Fields{
		"product":                 product,
		"feedbackMode":            s.FeedbackMode,
		"softCurrentLimitForward": s.SoftCurrentLimitForward,
		"softCurrentLimitReverse": s.SoftCurrentLimitReverse,
	}).Info("controller settings applied")
	return nil
}

// CommandSignedSpeed commands percent of full speed, [-100, 100]
func (c *Controller) CommandSignedSpeed(ctx context.Context, percent float64) error {
	speed := SpeedFromPercent(percent)
	if err := c.gw.SetSpeed(ctx, speed); err != nil {
		return comm.DeviceUnavailable("command speed", err)
	}
	c.log.WithFields(logrus.Fields{"percent": percent, "speed": speed}).Debug("speed commanded")
	return nil
}
