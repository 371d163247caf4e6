package reactive

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/internal/groutine"
	"github.com/srg/bikelight/pkg/sensor"
)

// Runner is a long-lived loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Feature groups the refreshers of one application feature so they can be
// primed and run together.
type Feature struct {
	name    string
	log     *logrus.Entry
	runners []Runner
}

// NewFeature groups runners. When initiate is set, every runner that can
// update is updated once so listeners see the starting state.
func NewFeature(name string, logger *logrus.Logger, initiate bool, runners ...Runner) *Feature {
	if logger == nil {
		logger = logrus.New()
	}
	f := &Feature{
		name:    name,
		log:     logger.WithField("component", name),
		runners: runners,
	}
	if initiate {
		for _, r := range runners {
			if u, ok := r.(interface{ Update() bool }); ok {
				u.Update()
			}
		}
	}
	return f
}

// Run starts every runner except those fed by a virtual input, which only
// update when pushed, and blocks until all of them return.
func (f *Feature) Run(ctx context.Context) error {
	var g groutine.Group
	started := 0
	for i, r := range f.runners {
		if sensor.IsVirtual(r) {
			continue
		}
		started++
		g.Go(ctx, fmt.Sprintf("%s-%d", f.name, i), r.Run)
	}
	f.log.WithField("runners", started).Debug("Feature running")
	return g.Wait()
}
