package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bikelight/internal/transport/goble"
	"github.com/srg/bikelight/internal/transport/tinyble"
	"github.com/srg/bikelight/pkg/config"
	"github.com/srg/bikelight/pkg/wireless"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this node and keep it linked with its peer",
	Long: `Registers the BikeLight profile, takes the configured GAP role and
keeps the link alive until interrupted. Field changes and link events are
printed as they happen.

As peripheral (front) the node advertises and serves the profile; as
central (back) it scans for the target and binds to its profile.`,
	Example: `  bikelight run --role peripheral --name BikeLight
  bikelight run --role central --target-name BikeLight --set BleBackBattery=3.7`,
	RunE: runRun,
}

var (
	runRole        string
	runName        string
	runBackend     string
	runTargetName  string
	runTargetAddr  string
	runAssignments []string
	runDuration    time.Duration
)

func init() {
	runCmd.Flags().StringVar(&runRole, "role", "", "GAP role: central or peripheral (overrides node.role)")
	runCmd.Flags().StringVar(&runName, "name", "", "Advertised node name (overrides node.name)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "Radio backend: goble or tinygo (overrides node.backend)")
	runCmd.Flags().StringVar(&runTargetName, "target-name", "", "Only link with a peer of this name")
	runCmd.Flags().StringVar(&runTargetAddr, "target-address", "", "Only link with a peer at this address")
	runCmd.Flags().StringArrayVar(&runAssignments, "set", nil, "Assign a profile field, field=value (repeatable)")
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
}

func applyRunFlags(cfg *config.Config) error {
	if runRole != "" {
		cfg.Node.Role = runRole
	}
	if runName != "" {
		cfg.Node.Name = runName
	}
	if runBackend != "" {
		cfg.Node.Backend = runBackend
	}
	if runTargetName != "" {
		cfg.Target.Name = runTargetName
	}
	if runTargetAddr != "" {
		cfg.Target.Address = runTargetAddr
	}
	return cfg.Validate()
}

// newTransport picks the radio backend named by the configuration.
func newTransport(cfg *config.Config, logger *logrus.Logger) (wireless.Transport, error) {
	switch cfg.Node.Backend {
	case config.BackendGoBLE:
		return goble.New(cfg.TransportTiming(), logger), nil
	case config.BackendTinyGo:
		return tinyble.New(cfg.TransportTiming(), logger), nil
	case config.BackendLoopback:
		return nil, fmt.Errorf("%w: the loopback backend only links in-process nodes, use 'bikelight simulate'", wireless.ErrUnsupported)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Node.Backend)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := transport.(io.Closer); ok {
		defer closer.Close()
	}

	n, err := newNode(cfg.Node.Name, transport, cfg, logger)
	if err != nil {
		return err
	}
	if err := n.configure(cfg.Role(), cfg.TargetFilter()); err != nil {
		return err
	}
	for _, a := range runAssignments {
		if err := n.assign(a); err != nil {
			return err
		}
	}

	out := newPrinter(cmd.OutOrStdout())
	n.watch(out)

	ctx, cancel := interruptible(cmd.Context())
	defer cancel()
	if runDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, runDuration)
		defer stop()
	}

	err = n.run(ctx)
	n.report(out)
	return err
}
