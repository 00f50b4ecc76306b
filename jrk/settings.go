package jrk

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	keyFeedbackMode      = "feedback_mode"
	keySoftLimitForward  = "soft_current_limit_forward"
	keySoftLimitReverse  = "soft_current_limit_reverse"
	feedbackModeOpenLoop = "none"

	// CurrentLimitFullScale is the largest soft current limit
	CurrentLimitFullScale = math.MaxUint16
)

// Settings is a Jrk G2 settings file.  The fields this program changes are
// broken out; everything else is kept as-is, in order, and written back
// untouched.
type Settings struct {
	// FeedbackMode is "none" for open loop, or the name of a feedback source
	FeedbackMode string

	// SoftCurrentLimitForward and SoftCurrentLimitReverse cap motor current,
	// 0 means no limit
	SoftCurrentLimitForward uint16
	SoftCurrentLimitReverse uint16

	raw yaml.MapSlice
}

// ParseSettings decodes the YAML printed by jrk2cmd --get-settings
func ParseSettings(b []byte) (*Settings, error) {
	var raw yaml.MapSlice
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "settings are not valid YAML")
	}
	s := &Settings{raw: raw}
	for _, item := range raw {
		key, _ := item.Key.(string)
		switch key {
		case keyFeedbackMode:
			str, ok := item.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string, got %v", keyFeedbackMode, item.Value)
			}
			s.FeedbackMode = str
		case keySoftLimitForward:
			v, err := limitValue(key, item.Value)
			if err != nil {
				return nil, err
			}
			s.SoftCurrentLimitForward = v
		case keySoftLimitReverse:
			v, err := limitValue(key, item.Value)
			if err != nil {
				return nil, err
			}
			s.SoftCurrentLimitReverse = v
		}
	}
	if s.FeedbackMode == "" {
		return nil, fmt.Errorf("settings have no %s", keyFeedbackMode)
	}
	return s, nil
}

func limitValue(key string, v interface{}) (uint16, error) {
	var i int64
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int64:
		i = n
	case uint64:
		if n > CurrentLimitFullScale {
			return 0, fmt.Errorf("%s out of range [0, %d], got %d", key, CurrentLimitFullScale, n)
		}
		i = int64(n)
	default:
		return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
	}
	if i < 0 || i > CurrentLimitFullScale {
		return 0, fmt.Errorf("%s out of range [0, %d], got %d", key, CurrentLimitFullScale, i)
	}
	return uint16(i), nil
}

// SetOpenLoopMode puts the controller in open loop, so speed commands drive
// the motor directly without feedback
func (s *Settings) SetOpenLoopMode() {
	s.FeedbackMode = feedbackModeOpenLoop
}

// OpenLoop reports whether the feedback mode is open loop
func (s *Settings) OpenLoop() bool {
	return s.FeedbackMode == feedbackModeOpenLoop
}

// SetCurrentLimit sets both soft current limits to percent of full scale.
// percent is clamped to [0, 100]; 0 means no software limit.
func (s *Settings) SetCurrentLimit(percent float64) {
	v := CurrentLimitFromPercent(percent)
	s.SoftCurrentLimitForward = v
	s.SoftCurrentLimitReverse = v
}

// Marshal renders the settings back to YAML, preserving the order of keys
// that were read and appending any that were not present
func (s *Settings) Marshal() ([]byte, error) {
	out := make(yaml.MapSlice, len(s.raw), len(s.raw)+3)
	copy(out, s.raw)
	set := func(key string, v interface{}) {
		for i := range out {
			if k, _ := out[i].Key.(string); k == key {
				out[i].Value = v
				return
			}
		}
		out = append(out, yaml.MapItem{Key: key, Value: v})
	}
	set(keyFeedbackMode, s.FeedbackMode)
	set(keySoftLimitForward, int(s.SoftCurrentLimitForward))
	set(keySoftLimitReverse, int(s.SoftCurrentLimitReverse))
	return yaml.Marshal(out)
}

// Get returns an opaque setting by key
func (s *Settings) Get(key string) (interface{}, bool) {
	for _, item := range s.raw {
		if k, _ := item.Key.(string); k == key {
			return item.Value, true
		}
	}
	return nil, false
}
