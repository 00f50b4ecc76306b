// Command brakecal measures the current-to-torque curve of the treadmill's
// magnetic brake.
//
// The motor controller is switched to open loop and spun up to full speed,
// then the brake current is swept upward while torque is averaged at each
// step.  The motor and brake are always zeroed before exit, including on
// Ctrl-C.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/treadmill/brakecal/comm"
	"github.com/treadmill/brakecal/config"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	configPath = config.FileName
)

func setupLogger(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}
	return nil
}

// loadConfig layers the config sources for cmd and applies the log level.
// A config file named on the command line must exist.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return loadConfigFile(cmd, cmd.Flags().Changed("config"))
}

func loadConfigFile(cmd *cobra.Command, required bool) (config.Config, error) {
	c, err := config.Load(configPath, required, cmd.Flags())
	if err != nil {
		return c, err
	}
	if err := setupLogger(c.LogLevel); err != nil {
		return c, err
	}
	return c, nil
}

func handleCmdError(err error) {
	if !comm.Fatal(err) {
		return
	}
	red := color.New(color.FgRed, color.Bold)
	switch {
	case errors.Is(err, comm.ErrDeviceUnavailable):
		red.Fprintln(os.Stderr, "\nError: hardware unavailable")
		fmt.Fprintln(os.Stderr, "  - Is the treadmill board plugged in and powered on? Is the port correct?")
		fmt.Fprintln(os.Stderr, "  - Is jrk2cmd installed and can it see the motor controller?")
	case errors.Is(err, comm.ErrConfiguration):
		red.Fprintln(os.Stderr, "\nError: the motor controller rejected its settings")
	case errors.Is(err, comm.ErrLink):
		red.Fprintln(os.Stderr, "\nError: communication with the treadmill board failed")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

// NewCommand returns the root command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brakecal",
		Short: "brakecal measures the current to torque curve of the treadmill brake",
		Long: `brakecal measures the current to torque curve of the treadmill's magnetic brake,
so the brake can be linearized.

It drives a Pololu Jrk G2 motor controller through jrk2cmd and the Harp
treadmill board over USB serial.  Settings come from brakecal.yml, BRAKECAL_*
environment variables and flags, in increasing priority.`,
		SilenceUsage: true,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringP("log_level", "l", config.Default().LogLevel, "log level (trace, debug, info, warn, error, fatal, panic)")

	cmd.AddCommand(
		NewRunCommand(),
		NewMkconfCommand(),
		NewConfCommand(),
		NewVersionCommand(),
	)
	return cmd
}
