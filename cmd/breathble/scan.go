package main

import (
	"context"
	"encoding/json"
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
	goble "github.com/srg/breathble/internal/device/go-ble"
	"github.com/srg/breathble/internal/session"
	"github.com/srg/breathble/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for Bluetooth Low Energy peripherals in the vicinity.

New peripherals are reported as they are discovered; when the scan ends a
table (or JSON document) of every peripheral seen is printed.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanFormat != "" {
		cfg.OutputFormat = scanFormat
	}
	if cmd.Flags().Changed("duration") || !fromFile {
		cfg.ScanTimeout = scanDuration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, cfg, fromFile)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(goble.NewCentral(logger), cfg.SessionOptions(), logger)
	defer func() {
		if err := sess.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close session")
		}
	}()

	return runSingleScan(ctx, cmd.OutOrStdout(), sess, cfg.ScanTimeout, cfg.OutputFormat, logger)
}

func runSingleScan(ctx context.Context, out io.Writer, src scanner.Source, duration time.Duration, format string, logger *logrus.Logger) error {
	c := scanner.NewCollector(logger)
	defer c.Close()
	if format == "table" {
		found := color.New(color.FgGreen)
		c.OnEvent(func(ev scanner.DeviceEvent) {
			if ev.Type != scanner.EventNew {
				return
			}
			found.Fprintf(out, "+ %s (%s) %d dBm\n", ev.DeviceInfo.Name, ev.DeviceInfo.Address, ev.DeviceInfo.RSSI)
		})
	}

	devices, err := c.Scan(ctx, src, duration, nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	switch format {
	case "json":
		return displayDevicesJSON(out, devices)
	default:
		return displayDevicesTable(out, devices)
	}
}

func displayDevicesTable(out io.Writer, devices []scanner.DeviceInfo) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tSEEN")

	for _, dev := range devices {
		name := dev.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(dev.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%d\n", name, dev.Address, dev.RSSI, services, dev.Seen)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []scanner.DeviceInfo) error {
	if devices == nil {
		devices = []scanner.DeviceInfo{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
