package jrk

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Jrk2Cmd is a Gateway that runs Pololu's jrk2cmd utility
type Jrk2Cmd struct {
	// Path is the jrk2cmd executable, looked up in PATH if not absolute
	Path string

	// Serial selects a controller by serial number when more than one is
	// connected.  Empty means the only one present.
	Serial string

	// TempDir holds the short-lived settings files, os.TempDir() if empty
	TempDir string

	Log logrus.FieldLogger
}

func (j *Jrk2Cmd) run(ctx context.Context, args ...string) ([]byte, error) {
	path := j.Path
	if path == "" {
		path = "jrk2cmd"
	}
	if j.Serial != "" {
		args = append([]string{"-d", j.Serial}, args...)
	}
	if j.Log != nil {
		j.Log.WithField("args", strings.Join(args, " ")).Trace("jrk2cmd")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, errors.Wrapf(err, "jrk2cmd %s: %s", strings.Join(args, " "), msg)
		}
		return nil, errors.Wrapf(err, "jrk2cmd %s", strings.Join(args, " "))
	}
	return stdout.Bytes(), nil
}

// GetSettings satisfies Gateway.  On Unix the settings are printed straight
// to stdout; Windows has no /dev/stdout so they go through a temp file.
func (j *Jrk2Cmd) GetSettings(ctx context.Context) ([]byte, error) {
	if runtime.GOOS != "windows" {
		return j.run(ctx, "--get-settings", "/dev/stdout")
	}
	f, err := os.CreateTemp(j.TempDir, "jrk-settings-*.txt")
	if err != nil {
		return nil, err
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)
	if _, err := j.run(ctx, "--get-settings", name); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

// SetSettings satisfies Gateway.  jrk2cmd only reads settings from a file.
func (j *Jrk2Cmd) SetSettings(ctx context.Context, settings []byte) error {
	f, err := os.CreateTemp(j.TempDir, "jrk-settings-*.yml")
	if err != nil {
		return err
	}
	name := f.Name()
	defer os.Remove(name)
	if _, err := f.Write(settings); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, err = j.run(ctx, "--settings", name)
	return err
}

// Reinitialize satisfies Gateway
func (j *Jrk2Cmd) Reinitialize(ctx context.Context) error {
	_, err := j.run(ctx, "--reinitialize")
	return err
}

// SetSpeed satisfies Gateway
func (j *Jrk2Cmd) SetSpeed(ctx context.Context, speed int) error {
	_, err := j.run(ctx, "--speed", strconv.Itoa(speed))
	return err
}
