package scheduler

import (
	"github.com/arbiphoenix/phoenix/internal/modules/harvest"
	"github.com/arbiphoenix/phoenix/internal/modules/recovery"
)

// CorrelationRefreshJob recomputes the pairwise correlation matrix from the
// accumulated price history.
type CorrelationRefreshJob struct {
	Tracker *recovery.CorrelationTracker
}

// Name returns the job name
func (j *CorrelationRefreshJob) Name() string { return "correlation_refresh" }

// Run refreshes the correlation matrix
func (j *CorrelationRefreshJob) Run() error {
	j.Tracker.Refresh()
	return nil
}

// HarvestOptimizeJob retunes the profit target ladder from recent results
type HarvestOptimizeJob struct {
	Harvester *harvest.Harvester
}

// Name returns the job name
func (j *HarvestOptimizeJob) Name() string { return "harvest_optimize" }

// Run runs one optimization pass
func (j *HarvestOptimizeJob) Run() error {
	j.Harvester.OptimizeTargets()
	return nil
}
