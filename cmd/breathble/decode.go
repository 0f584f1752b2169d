package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/breathble/internal/payload"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode <hex-payload>",
	Short: "Decode a captured characteristic payload",
	Long: `Decode one characteristic payload without a device.

The payload is given as hex; ':', '-' and spaces between bytes are ignored.
The reading is identified by the payload length:

  1 byte    battery level
  2 bytes   usage count (big-endian)
  4 bytes   alcohol content (host byte order float)
  18 bytes  device address (ASCII)`,
	Example: `  breathble decode 55
  breathble decode 01:00`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := parseHexPayload(strings.Join(args, " "))
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	v, ok := payload.Decode(data)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "unrecognized payload length %d\n", len(data))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", v.Kind(), formatValue(v))
	return nil
}

// parseHexPayload decodes hex text, dropping separators and an optional 0x prefix.
func parseHexPayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("payload is empty")
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}
