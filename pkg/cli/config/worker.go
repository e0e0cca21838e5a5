package config

import (
	"time"

	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/service/worker"
	"github.com/urfave/cli/v3"
)

// Worker holds CLI flags for the notification worker
type Worker struct {
	interval    time.Duration
	concurrency int
	maxAttempts int
	staleAfter  time.Duration
	batchSize   int
}

func (x *Worker) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "worker-interval",
			Usage:       "Poll interval of the notification worker",
			Category:    "Worker",
			Value:       15 * time.Second,
			Sources:     cli.EnvVars("IRIS_WORKER_INTERVAL"),
			Destination: &x.interval,
		},
		&cli.IntFlag{
			Name:        "worker-concurrency",
			Usage:       "How many notifications are processed in parallel",
			Category:    "Worker",
			Value:       4,
			Sources:     cli.EnvVars("IRIS_WORKER_CONCURRENCY"),
			Destination: &x.concurrency,
		},
		&cli.IntFlag{
			Name:        "worker-max-attempts",
			Usage:       "Retry budget per notification before giving up",
			Category:    "Worker",
			Value:       5,
			Sources:     cli.EnvVars("IRIS_WORKER_MAX_ATTEMPTS"),
			Destination: &x.maxAttempts,
		},
		&cli.DurationFlag{
			Name:        "worker-stale-after",
			Usage:       "Age after which a processing notification counts as abandoned",
			Category:    "Worker",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("IRIS_WORKER_STALE_AFTER"),
			Destination: &x.staleAfter,
		},
		&cli.IntFlag{
			Name:        "worker-batch-size",
			Usage:       "How many notifications one poll cycle picks up",
			Category:    "Worker",
			Value:       50,
			Sources:     cli.EnvVars("IRIS_WORKER_BATCH_SIZE"),
			Destination: &x.batchSize,
		},
	}
}

// Configure creates the notification worker
func (x *Worker) Configure(repo interfaces.Repository, fetcher worker.ResourceFetcher, registry *model.SubscriptionRegistry) *worker.NotificationWorker {
	return worker.New(repo, fetcher, registry,
		worker.WithInterval(x.interval),
		worker.WithConcurrency(x.concurrency),
		worker.WithMaxAttempts(x.maxAttempts),
		worker.WithStaleAfter(x.staleAfter),
		worker.WithBatchSize(x.batchSize),
	)
}
