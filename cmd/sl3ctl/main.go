//go:build cgo

// sl3ctl is a command-line utility for the Rane SL3: query status,
// switch the sample rate, set per-pair routing and monitor
// asynchronous device notifications.
//
// Configuration is read from sl3ctl.yaml in the working directory or
// /etc/sl3, overridable with SL3_-prefixed environment variables.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/nvgeele/sl3"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sl3ctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	v := viper.New()
	v.SetConfigName("sl3ctl")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sl3")
	v.SetEnvPrefix("sl3")
	v.AutomaticEnv()
	v.SetDefault("log-level", "warn")
	v.SetDefault("sample-rate", 48000)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	logger.SetLevel(level)

	if len(args) < 1 {
		return fmt.Errorf("usage: sl3ctl <status|set-rate|set-route|monitor> [args]")
	}

	opts := sl3.NewOptions()
	opts.SampleRate = v.GetInt("sample-rate")
	opts.Logger = logger

	switch args[0] {
	case "status":
		return withDevice(opts, printStatus)
	case "set-rate":
		if len(args) != 2 {
			return fmt.Errorf("usage: sl3ctl set-rate <44100|48000>")
		}
		rate := 0
		if _, err := fmt.Sscanf(args[1], "%d", &rate); err != nil {
			return fmt.Errorf("rate %q: %w", args[1], err)
		}
		return withDevice(opts, func(dev *sl3.Device) error {
			return dev.SetSampleRate(rate)
		})
	case "set-route":
		if len(args) != 3 {
			return fmt.Errorf("usage: sl3ctl set-route <a|b|c> <analog|usb>")
		}
		pair, err := parsePair(args[1])
		if err != nil {
			return err
		}
		mode, err := parseMode(args[2])
		if err != nil {
			return err
		}
		return withDevice(opts, func(dev *sl3.Device) error {
			return dev.SetRouting(pair, mode)
		})
	case "monitor":
		return monitor(opts)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func withDevice(opts *sl3.Options, fn func(*sl3.Device) error) error {
	dev, err := sl3.Open(opts)
	if err != nil {
		return err
	}
	defer dev.Close()
	return fn(dev)
}

func printStatus(dev *sl3.Device) error {
	st := dev.Status()
	fmt.Printf("sample rate:  %d Hz\n", st.SampleRate)
	for i, name := range []string{"deck A", "deck B", "deck C"} {
		fmt.Printf("routing %s: %s  switch: %d\n",
			name, modeName(st.Routing[i]), st.Switches[i])
	}
	fmt.Printf("overloads:    %v\n", st.Overloads)
	fmt.Printf("port status:  %v\n", st.PortStatus)
	fmt.Printf("streams:      playback=%v capture=%v\n",
		st.PlaybackRunning, st.CaptureRunning)
	c := st.Counters
	fmt.Printf("counters:     playback=%d capture=%d underruns=%d overruns=%d faults=%d\n",
		c.PlaybackCompleted, c.CaptureCompleted,
		c.PlaybackUnderruns, c.CaptureOverruns, c.TransientFaults)
	return nil
}

// monitor stays attached and prints notifications until interrupted.
func monitor(opts *sl3.Options) error {
	done := make(chan struct{})
	opts.OnOverload = func(v [6]byte) {
		fmt.Printf("overload: %v\n", v)
	}
	opts.OnSwitches = func(v [3]byte) {
		fmt.Printf("switches: %v\n", v)
	}
	opts.OnDisconnected = func() {
		fmt.Println("device disconnected")
		close(done)
	}

	dev, err := sl3.Open(opts)
	if err != nil {
		return err
	}
	defer dev.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
	}
	return nil
}

func parsePair(s string) (sl3.Pair, error) {
	switch strings.ToLower(s) {
	case "a":
		return sl3.PairDeckA, nil
	case "b":
		return sl3.PairDeckB, nil
	case "c":
		return sl3.PairDeckC, nil
	}
	return 0, fmt.Errorf("unknown pair %q, want a, b or c", s)
}

func parseMode(s string) (sl3.RouteMode, error) {
	switch strings.ToLower(s) {
	case "analog":
		return sl3.RouteAnalog, nil
	case "usb":
		return sl3.RouteUSB, nil
	}
	return 0, fmt.Errorf("unknown mode %q, want analog or usb", s)
}

func modeName(m sl3.RouteMode) string {
	if m == sl3.RouteUSB {
		return "usb"
	}
	return "analog"
}
