package collector

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// RunScheduled runs a pass on every tick of spec ("@every 1h", "0 */6 * * *")
// until ctx is done. A tick is skipped while the previous pass is still running.
// Failed passes are logged; the schedule keeps going.
func (c *Collector) RunScheduled(ctx context.Context, spec string) error {
	log := c.Log.WithName("schedule")
	scheduler := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)

	_, err := scheduler.AddFunc(spec, func() {
		if _, err := c.Run(ctx); err != nil {
			log.Error(err, "collection pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	log.Info("starting scheduler", "schedule", spec)
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	log.Info("scheduler stopped")
	return nil
}
