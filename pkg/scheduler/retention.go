package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

const RetentionJobName = "retention"

// Pruner deletes rows older than a cutoff. The event store and the audit
// log both satisfy it.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob builds a job that prunes every target down to the given
// retention window. Targets are keyed by table name for metrics and logs.
func RetentionJob(schedule string, retention time.Duration, targets map[string]Pruner) (Job, error) {
	if retention <= 0 {
		return Job{}, fmt.Errorf("scheduler: retention must be positive, got %s", retention)
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	return Job{
		Name:     RetentionJobName,
		Schedule: schedule,
		Func: func(ctx context.Context) error {
			logger := telemetry.FromContext(ctx)
			cutoff := time.Now().UTC().Add(-retention)

			var errs []error
			for _, name := range names {
				n, err := targets[name].PruneBefore(ctx, cutoff)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					continue
				}
				telemetry.Metrics.RowsPruned.WithLabelValues(name).Add(float64(n))
				if n > 0 {
					logger.Info("retention pruned rows",
						slog.String("table", name),
						slog.Int64("rows", n),
						slog.Time("cutoff", cutoff),
					)
				}
			}
			return errors.Join(errs...)
		},
	}, nil
}
