package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bikelight/internal/groutine"
	"github.com/srg/bikelight/internal/transport/loopback"
	"github.com/srg/bikelight/pkg/bikelight"
	"github.com/srg/bikelight/pkg/config"
	"github.com/srg/bikelight/pkg/wireless"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Link a front and a back node in-process",
	Long: `Runs both BikeLight nodes over an in-process radio: the front node
serves the profile as peripheral and the back node connects as central.
Assignments given with --set go to whichever node owns the field. With
--demo both nodes keep changing values so the exchange is visible.`,
	Example: `  bikelight simulate --set BleRearBrightness=60 --set BleBackBattery=3.9
  bikelight simulate --demo --duration 10s`,
	RunE: runSimulate,
}

var (
	simulateDuration    time.Duration
	simulateAssignments []string
	simulateDemo        bool
	simulateTick        time.Duration
)

func init() {
	simulateCmd.Flags().DurationVarP(&simulateDuration, "duration", "d", 5*time.Second, "Simulation length (0 runs until interrupted)")
	simulateCmd.Flags().StringArrayVar(&simulateAssignments, "set", nil, "Assign a profile field, field=value (repeatable)")
	simulateCmd.Flags().BoolVar(&simulateDemo, "demo", false, "Keep changing values on both nodes")
	simulateCmd.Flags().DurationVar(&simulateTick, "tick", 500*time.Millisecond, "Value change period with --demo")
}

// simulation is a linked front/back pair on one loopback hub.
type simulation struct {
	front *node
	back  *node
}

func newSimulation(cfg *config.Config, logger *logrus.Logger) (*simulation, error) {
	hub := loopback.NewHub(cfg.TransportTiming(), logger)

	front, err := newNode(bikelight.FrontName, hub.Transport(bikelight.FrontName, bikelight.FrontAddress), cfg, logger)
	if err != nil {
		return nil, err
	}
	back, err := newNode(bikelight.BackName, hub.Transport(bikelight.BackName, bikelight.BackAddress), cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := front.configure(wireless.RolePeripheral, &wireless.Target{Name: bikelight.BackName}); err != nil {
		return nil, err
	}
	err = back.configure(wireless.RoleCentral, &wireless.Target{
		Name:     bikelight.FrontName,
		Services: []string{bikelight.ServiceUUID},
	})
	if err != nil {
		return nil, err
	}
	return &simulation{front: front, back: back}, nil
}

// assign routes the assignment to the node owning the field.
func (s *simulation) assign(assignment string) error {
	err := s.front.assign(assignment)
	if errors.Is(err, ErrReadOnly) {
		return s.back.assign(assignment)
	}
	return err
}

// demo walks the rear brightness on the front and drains the battery on the
// back every tick.
func (s *simulation) demo(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	brightness, battery := 0, 4.2
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		brightness = (brightness + 10) % 110
		battery -= 0.05
		if battery < 3.0 {
			battery = 4.2
		}
		s.front.profile.Rear().Brightness.SetValue(brightness)
		s.back.profile.ToFront().Battery.SetValue(battery)
	}
}

func (s *simulation) run(ctx context.Context, tick time.Duration) error {
	var g groutine.Group
	g.Go(ctx, "simulate-front", s.front.run)
	g.Go(ctx, "simulate-back", s.back.run)
	if tick > 0 {
		g.Go(ctx, "simulate-demo", func(ctx context.Context) error { return s.demo(ctx, tick) })
	}
	return g.Wait()
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	sim, err := newSimulation(cfg, logger)
	if err != nil {
		return err
	}
	for _, a := range simulateAssignments {
		if err := sim.assign(a); err != nil {
			return err
		}
	}

	out := newPrinter(cmd.OutOrStdout())
	sim.front.watch(out)
	sim.back.watch(out)

	ctx, cancel := interruptible(cmd.Context())
	defer cancel()
	if simulateDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, simulateDuration)
		defer stop()
	}

	var tick time.Duration
	if simulateDemo {
		tick = simulateTick
	}
	err = sim.run(ctx, tick)
	sim.front.report(out)
	sim.back.report(out)
	return err
}
