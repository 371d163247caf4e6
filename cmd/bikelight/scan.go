package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bikelight/pkg/bikelight"
	"github.com/srg/bikelight/pkg/wireless"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby advertisers",
	Long: `Scans with the configured backend and prints each advertiser once.
With --bikelight only peers advertising the BikeLight service are shown.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanBackend   string
	scanBikeLight bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVar(&scanBackend, "backend", "", "Radio backend: goble or tinygo (overrides node.backend)")
	scanCmd.Flags().BoolVar(&scanBikeLight, "bikelight", false, "Only show BikeLight nodes")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	if scanBackend != "" {
		cfg.Node.Backend = scanBackend
	}
	if err := cfg.Validate(); err != nil {
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

	ctx, cancel := interruptible(cmd.Context())
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, scanDuration)
	defer stop()

	var filter *wireless.Target
	if scanBikeLight {
		filter = &wireless.Target{Services: []string{bikelight.ServiceUUID}}
	}
	out := newPrinter(cmd.OutOrStdout())
	return scanPeers(ctx, transport, filter, out.Peer)
}

// scanPeers repeats scan windows until ctx ends, reporting each matching
// address once.
func scanPeers(ctx context.Context, transport wireless.Transport, filter *wireless.Target, report func(wireless.Peer)) error {
	seen := make(map[string]struct{})
	handler := func(p wireless.Peer) bool {
		addr := strings.ToUpper(p.Address())
		if _, dup := seen[addr]; dup || !filter.Match(p) {
			return false
		}
		seen[addr] = struct{}{}
		report(p)
		return false
	}

	for ctx.Err() == nil {
		if err := transport.Scan(ctx, handler); err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}
