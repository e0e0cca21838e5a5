package worker

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/service/graph"
	"github.com/secmon-lab/iris/pkg/service/normalize"
	"github.com/secmon-lab/iris/pkg/utils/errutil"
	"github.com/secmon-lab/iris/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInterval    = 15 * time.Second
	defaultConcurrency = 4
	defaultMaxAttempts = 5
	defaultStaleAfter  = 5 * time.Minute
	defaultBatchSize   = 50
)

// ResourceFetcher fetches a resource payload with the owning user's token
type ResourceFetcher interface {
	Get(ctx context.Context, userID types.UserID, resource string) ([]byte, error)
}

// NotificationWorker drains the notification queue in the background:
// claim a row, fetch the resource, normalize it, store the message.
//
// Architecture assumptions:
// - Single server instance (no distributed locking)
// - Status compare-and-set keeps a second instance from double-processing,
//   but fair work distribution would need leader election
type NotificationWorker struct {
	repo     interfaces.Repository
	fetcher  ResourceFetcher
	registry *model.SubscriptionRegistry

	interval    time.Duration
	concurrency int
	maxAttempts int
	staleAfter  time.Duration
	batchSize   int

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option is a functional option for NotificationWorker
type Option func(*NotificationWorker)

// WithInterval sets the poll interval
func WithInterval(interval time.Duration) Option {
	return func(w *NotificationWorker) {
		w.interval = interval
	}
}

// WithConcurrency sets how many rows are processed in parallel
func WithConcurrency(n int) Option {
	return func(w *NotificationWorker) {
		w.concurrency = n
	}
}

// WithMaxAttempts sets the retry budget per row
func WithMaxAttempts(n int) Option {
	return func(w *NotificationWorker) {
		w.maxAttempts = n
	}
}

// WithStaleAfter sets how long a processing row may sit before it is
// considered abandoned and recovered on startup
func WithStaleAfter(d time.Duration) Option {
	return func(w *NotificationWorker) {
		w.staleAfter = d
	}
}

// WithBatchSize sets how many rows one cycle picks up
func WithBatchSize(n int) Option {
	return func(w *NotificationWorker) {
		w.batchSize = n
	}
}

func New(repo interfaces.Repository, fetcher ResourceFetcher, registry *model.SubscriptionRegistry, opts ...Option) *NotificationWorker {
	w := &NotificationWorker{
		repo:     repo,
		fetcher:  fetcher,
		registry: registry,

		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		maxAttempts: defaultMaxAttempts,
		staleAfter:  defaultStaleAfter,
		batchSize:   defaultBatchSize,

		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Wake nudges the worker to poll now instead of waiting for the ticker.
// Safe to call from any goroutine; calls coalesce while a cycle runs.
func (w *NotificationWorker) Wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Start recovers rows abandoned mid-processing and begins the poll loop
func (w *NotificationWorker) Start(ctx context.Context) error {
	if err := w.recoverStale(ctx); err != nil {
		return goerr.Wrap(err, "failed to recover stale notifications")
	}

	logging.Default().Info("notification worker starting",
		"interval", w.interval.String(),
		"concurrency", w.concurrency,
		"max_attempts", w.maxAttempts,
	)

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *NotificationWorker) Stop() {
	logging.Default().Info("notification worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("notification worker stopped")
}

func (w *NotificationWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	// Drain anything queued before startup
	w.processBatch(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.processBatch(ctx)

		case <-w.wakeCh:
			w.processBatch(ctx)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("notification worker context cancelled")
			return
		}
	}
}

// recoverStale moves abandoned processing rows back to failed so the
// normal retry path picks them up again
func (w *NotificationWorker) recoverStale(ctx context.Context) error {
	stale, err := w.repo.ListStaleProcessing(ctx, time.Now().Add(-w.staleAfter))
	if err != nil {
		return goerr.Wrap(err, "failed to list stale notifications")
	}

	for _, n := range stale {
		err := w.repo.UpdateNotificationStatus(ctx, n.ID,
			types.NotificationStatusProcessing, types.NotificationStatusFailed,
			n.Attempts, "recovered from stale processing state")
		if err != nil {
			return goerr.Wrap(err, "failed to recover stale notification", goerr.V("id", n.ID))
		}
		logging.Default().Warn("recovered stale notification", "id", n.ID, "attempts", n.Attempts)
	}

	return nil
}

func (w *NotificationWorker) processBatch(ctx context.Context) {
	rows, err := w.repo.ListRunnableNotifications(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		_ = errutil.Handle(ctx, err, "failed to list runnable notifications")
		return
	}
	if len(rows) == 0 {
		return
	}

	eg := &errgroup.Group{}
	eg.SetLimit(w.concurrency)
	for _, n := range rows {
		eg.Go(func() error {
			w.processOne(ctx, n)
			return nil
		})
	}
	_ = eg.Wait()
}

func (w *NotificationWorker) processOne(ctx context.Context, n *model.Notification) {
	logger := logging.From(ctx).With("notification_id", n.ID, "resource", n.Resource)
	ctx = logging.With(ctx, logger)

	attempts := n.Attempts + 1

	// Claim the row. Losing the compare-and-set means another cycle or
	// instance took it, which is not an error.
	if err := w.repo.UpdateNotificationStatus(ctx, n.ID,
		n.Status, types.NotificationStatusProcessing, attempts, ""); err != nil {
		logger.Debug("skipped notification claimed elsewhere", "error", err)
		return
	}

	if err := w.handle(ctx, n); err != nil {
		// Deterministic failures will not change on retry, so spend the
		// whole budget at once and park the row.
		if !retriable(err) {
			attempts = w.maxAttempts
		}

		if updErr := w.repo.UpdateNotificationStatus(ctx, n.ID,
			types.NotificationStatusProcessing, types.NotificationStatusFailed,
			attempts, err.Error()); updErr != nil {
			_ = errutil.Handle(ctx, updErr, "failed to mark notification as failed")
			return
		}

		if attempts >= w.maxAttempts {
			_ = errutil.Handle(ctx, goerr.Wrap(err, "notification exhausted its retries",
				goerr.V("id", n.ID),
				goerr.V("resource", n.Resource),
				goerr.V("attempts", attempts),
			), "giving up on notification")
		} else {
			logger.Warn("notification processing failed, will retry",
				"error", err, "attempts", attempts)
		}
		return
	}

	if err := w.repo.UpdateNotificationStatus(ctx, n.ID,
		types.NotificationStatusProcessing, types.NotificationStatusDone,
		attempts, ""); err != nil {
		_ = errutil.Handle(ctx, err, "failed to mark notification as done")
	}
}

// retriable reports whether a row failure is worth another attempt.
// Unidentifiable payloads and plain client errors (403, 404, ...) keep
// their shape on retry.
func retriable(err error) bool {
	var clientErr *graph.ClientError
	if errors.As(err, &clientErr) {
		return false
	}
	return !errors.Is(err, normalize.ErrMissingMessageID)
}

func (w *NotificationWorker) handle(ctx context.Context, n *model.Notification) error {
	logger := logging.From(ctx)

	// Nothing to fetch for a deletion; the stored message is kept for audit
	if n.ChangeType == types.ChangeTypeDeleted {
		logger.Debug("skipping fetch for deleted resource")
		return nil
	}

	userID, err := w.registry.UserOf(n.SubscriptionID)
	if err != nil {
		return goerr.Wrap(err, "no user for subscription", goerr.V("subscription_id", n.SubscriptionID))
	}

	body, err := w.fetcher.Get(ctx, userID, n.Resource)
	if err != nil {
		return goerr.Wrap(err, "failed to fetch resource")
	}

	msg, err := normalize.Message(body)
	if err != nil {
		return goerr.Wrap(err, "failed to normalize message")
	}

	created, err := w.repo.PutMessage(ctx, msg)
	if err != nil {
		return goerr.Wrap(err, "failed to store message", goerr.V("message_id", msg.ID))
	}

	if created {
		logger.Info("message ingested", "message_id", msg.ID, "channel_id", msg.ChannelID)
	} else {
		logger.Debug("message already ingested", "message_id", msg.ID)
	}

	return nil
}
