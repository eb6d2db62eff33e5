package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagConfigFile        string
	flagI2CDevice         string
	flagListenAddr        string
	flagLocation          string
	flagSensors           []string
	flagInitialBackoffMS  int
	flagMaxBackoffSeconds int
	flagMaxInitAttempts   int
	flagAbsHumidityStride int
	flagStateDir          string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eclssd",
		Short: "ECLSS - environmental sensor supervision daemon",
		Long: `eclssd polls a fixed set of I2C air-quality sensors on a single shared
bus, publishes their readings as Prometheus-style metrics, and serves both
the metrics and the live sensor registry over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	cmd.Flags().StringVar(&flagConfigFile, "config", "", "path to config file (default: search /etc/eclssd, ., ~/.config/eclssd)")
	cmd.Flags().StringVar(&flagI2CDevice, "i2c-device", "", "I2C bus device path (default /dev/i2c-1)")
	cmd.Flags().StringVar(&flagListenAddr, "listen", "", "HTTP listen address (default 127.0.0.1:4200)")
	cmd.Flags().StringVar(&flagLocation, "location", "", "location string included in /metrics.json")
	cmd.Flags().StringSliceVar(&flagSensors, "sensors", nil, "sensor identities to enable (default: all known)")
	cmd.Flags().IntVar(&flagInitialBackoffMS, "initial-backoff-ms", 0, "initial retry backoff in milliseconds (default 500)")
	cmd.Flags().IntVar(&flagMaxBackoffSeconds, "max-backoff-seconds", 0, "max retry backoff in seconds (default 60)")
	cmd.Flags().IntVar(&flagMaxInitAttempts, "max-init-attempts", 0, "max consecutive init failures before giving up on a sensor (0 = unbounded)")
	cmd.Flags().IntVar(&flagAbsHumidityStride, "abs-humidity-stride", 0, "recompute absolute humidity every N polls (default 1)")
	cmd.Flags().StringVar(&flagStateDir, "state-dir", "", "baseline persistence directory (default /var/lib/eclss)")

	return cmd
}
