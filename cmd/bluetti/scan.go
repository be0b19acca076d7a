package main

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/bluetti-ble/internal/ble"
	"github.com/chaz8081/bluetti-ble/internal/device"
)

type scanOptions struct {
	timeout float64
	filter  string
}

func newScanCommand(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Detect Bluetti devices by Bluetooth name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, root, opts)
		},
	}
	cmd.Flags().Float64VarP(&opts.timeout, "timeout", "t", 0,
		"scan this many seconds and list every device; without it, stop after the first")
	cmd.Flags().StringVarP(&opts.filter, "filter", "f", "", "only show devices whose Bluetooth name matches this regex")
	return cmd
}

// nameMatcher accepts advertised names of Bluetti devices, optionally
// narrowed by a regex.
func nameMatcher(filter string) (func(ble.Device) bool, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile(filter); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
	}
	return func(d ble.Device) bool {
		if _, ok := device.ParseBluetoothName(d.Name); !ok {
			return false
		}
		return re == nil || re.MatchString(d.Name)
	}, nil
}

func runScan(cmd *cobra.Command, root *rootOptions, opts *scanOptions) error {
	duration := root.cfg.Scan.Duration
	if cmd.Flags().Changed("timeout") {
		duration = time.Duration(opts.timeout * float64(time.Second))
	}
	filter := root.cfg.Scan.Filter
	if cmd.Flags().Changed("filter") {
		filter = opts.filter
	}
	match, err := nameMatcher(filter)
	if err != nil {
		return err
	}

	devices, err := ble.ScanForDevices(cmd.Context(), ble.NewTinyGoAdapter(), ble.ScanOptions{
		Duration: duration,
		Match:    match,
	})
	if err != nil {
		return err
	}
	for _, d := range devices {
		model, _ := device.ParseBluetoothName(d.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "[%s %s]\n", model, d.Address)
	}
	return nil
}
