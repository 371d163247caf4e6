package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/bikelight/internal/transport/loopback"
	"github.com/srg/bikelight/pkg/bikelight"
	"github.com/srg/bikelight/pkg/wireless"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print the BikeLight GATT layout",
	Long: `Prints the service, characteristics and fields both nodes register,
with their direction, codec and wire size. Field names are the ones
accepted by --set.`,
	RunE: runProfile,
}

func runProfile(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	hub := loopback.NewHub(cfg.TransportTiming(), logger)
	session := wireless.NewSession(hub.Transport(bikelight.FrontName, bikelight.FrontAddress), cfg.SessionOptions(logger))
	p, err := bikelight.New(session)
	if err != nil {
		return err
	}
	return writeProfile(cmd.OutOrStdout(), p)
}

func writeProfile(out io.Writer, p *bikelight.Profile) error {
	fmt.Fprintf(out, "Service %s (appearance 0x%04x)\n\n", p.Service.UUID(), bikelight.Appearance)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHARACTERISTIC\tUUID\tDIRECTION\tSIZE")
	for _, c := range p.Service.Characteristics() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.Name(), c.UUID(), c.Mode(), c.Size())
		for _, info := range c.Informations() {
			fmt.Fprintf(w, "  [%d] %s\t\t%v\t%d\n", info.Index(), info.Name(), info.Codec(), info.Size())
		}
	}
	return w.Flush()
}
