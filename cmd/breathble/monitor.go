package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/breathble/internal/device"
	goble "github.com/srg/breathble/internal/device/go-ble"
	"github.com/srg/breathble/internal/groutine"
	"github.com/srg/breathble/internal/payload"
	"github.com/srg/breathble/internal/readings"
	"github.com/srg/breathble/internal/session"
	"github.com/srg/breathble/internal/stream"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Connect to a breathalyzer and stream its readings",
	Long: `Connect to a breathalyzer, read every characteristic of its service once
and keep printing readings pushed by the device.

Connection state changes are printed as they happen. The command runs until
Ctrl+C, the --duration elapses or the connection fails, then prints the latest
value of every reading.`,
	Example: `  breathble monitor AA:BB:CC:DD:EE:FF
  breathble monitor AA:BB:CC:DD:EE:FF --service FFE0 --timeout 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorTimeout  time.Duration
	monitorService  string
	monitorHistory  int
	monitorDuration time.Duration
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorTimeout, "timeout", "t", 10*time.Second, "Connection timeout")
	monitorCmd.Flags().StringVarP(&monitorService, "service", "s", "", "Service UUID to read (default: first discovered service)")
	monitorCmd.Flags().IntVar(&monitorHistory, "history", 64, "Number of readings kept for the summary")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 for until Ctrl+C)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := strings.TrimSpace(args[0])
	if address == "" {
		return fmt.Errorf("device address is required")
	}

	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorService != "" {
		if _, err := device.ValidateUUID(monitorService); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
		cfg.ServiceUUID = monitorService
	}
	if cmd.Flags().Changed("timeout") || !fromFile {
		cfg.ConnectTimeout = monitorTimeout
	}
	if cmd.Flags().Changed("history") || !fromFile {
		cfg.History = monitorHistory
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg, fromFile)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	journal, err := readings.NewJournal(cfg.History)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	m := &monitor{
		out:        cmd.OutOrStdout(),
		session:    session.New(goble.NewCentral(logger), cfg.SessionOptions(), logger),
		journal:    journal,
		peripheral: device.NewPeripheral(address, "", 0),
		logger:     logger,
	}
	return m.run(ctx, cfg.ConnectTimeout)
}

// monitor prints the state and readings of one connection.
type monitor struct {
	out        io.Writer
	session    *session.Session
	journal    *readings.Journal
	peripheral device.Peripheral
	logger     *logrus.Logger
}

var (
	stateInfo  = color.New(color.FgYellow)
	stateOK    = color.New(color.FgGreen, color.Bold)
	stateError = color.New(color.FgRed, color.Bold)
	valueKind  = color.New(color.FgCyan)
)

func (m *monitor) run(ctx context.Context, timeout time.Duration) error {
	states := m.session.SubscribeStates(0)
	values := m.session.Readings().Values(0)
	journaled := m.session.Readings().Values(0)

	collected := make(chan error, 1)
	groutine.Go(ctx, "reading-journal", func(context.Context) {
		// Ends when the session closes the stream
		collected <- m.journal.Collect(context.Background(), journaled.C())
	})

	err := m.session.Connect(m.peripheral, timeout)
	if err == nil {
		err = m.loop(ctx, states, values)
	}

	if m.session.IsConnected(m.peripheral.Address()) {
		if dErr := m.session.Disconnect(m.peripheral); dErr != nil {
			m.logger.WithError(dErr).Warn("Failed to disconnect")
		}
	}
	if cErr := m.session.Close(); cErr != nil {
		m.logger.WithError(cErr).Warn("Failed to close session")
	}

	// Readings published after the loop stopped are still worth printing
	for v := range values.C() {
		m.printValue(v)
	}
	if jErr := <-collected; jErr != nil {
		m.logger.WithError(jErr).Warn("Reading journal stopped early")
	}

	m.printSummary()
	return err
}

// loop prints events until ctx ends or the connection fails.
func (m *monitor) loop(ctx context.Context, states *stream.Subscription[device.ConnectionState], values *stream.Subscription[payload.Value]) error {
	connected := false
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()

		case st, ok := <-states.C():
			if !ok {
				return nil
			}
			m.printState(st)

			switch st := st.(type) {
			case device.Connected:
				connected = true
			case device.TimedOut:
				return fmt.Errorf("%w after %s", device.ErrTimeout, st.After)
			case device.ConnectFailed:
				// Once connected, a single failed read or push is not fatal
				if !connected {
					return st.Err
				}
			case device.Disconnected:
				if !strings.EqualFold(st.Address, m.peripheral.Address()) {
					continue
				}
				if st.Reason != nil {
					return fmt.Errorf("%w: %w", ErrConnectionLost, st.Reason)
				}
				return ErrConnectionLost
			}

		case v, ok := <-values.C():
			if ok {
				m.printValue(v)
			}
		}
	}
}

func (m *monitor) printState(st device.ConnectionState) {
	switch st.(type) {
	case device.Connected:
		stateOK.Fprintf(m.out, "%s\n", st)
	case device.ConnectFailed, device.TimedOut:
		stateError.Fprintf(m.out, "%s\n", st)
	default:
		stateInfo.Fprintf(m.out, "%s\n", st)
	}
}

func (m *monitor) printValue(v payload.Value) {
	valueKind.Fprintf(m.out, "%-16s", v.Kind())
	fmt.Fprintf(m.out, " %s\n", formatValue(v))
}

func (m *monitor) printSummary() {
	latest := m.journal.Latest()
	if len(latest) == 0 {
		fmt.Fprintln(m.out, "No readings received")
		return
	}

	fmt.Fprintln(m.out, "\nLatest readings:")
	w := tabwriter.NewWriter(m.out, 0, 0, 2, ' ', 0)
	for _, e := range latest {
		fmt.Fprintf(w, "  %s\t%s\n", e.Value.Kind(), formatValue(e.Value))
	}
	_ = w.Flush()
	fmt.Fprintf(m.out, "%d readings recorded\n", m.journal.Recorded())
}

// formatValue renders a reading with its unit.
func formatValue(v payload.Value) string {
	switch v := v.(type) {
	case payload.Battery:
		return fmt.Sprintf("%d%%", uint8(v))
	case payload.AlcoholContent:
		return fmt.Sprintf("%s%%", v)
	default:
		return v.String()
	}
}
