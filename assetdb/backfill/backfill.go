// Package backfill derives the deployment status of assets from their legacy
// deployment payload.
package backfill

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kpi-project/assetdb/assetdb/datastore"
	"github.com/kpi-project/assetdb/assetdb/datastore/metrics"
	"github.com/kpi-project/assetdb/assetdb/datastore/models"
	"github.com/kpi-project/assetdb/configuration"
	dcontext "github.com/kpi-project/assetdb/context"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// DefaultBatchSize is the number of assets read and written per round trip.
const DefaultBatchSize = configuration.DefaultBatchSize

// Store is the subset of datastore.AssetStore used by the backfill.
type Store interface {
	MarkEmptySurveys(ctx context.Context, status models.DeploymentStatus) (int64, error)
	CountWithDeploymentData(ctx context.Context) (int64, error)
	FindWithDeploymentData(ctx context.Context, afterID int64, limit int) (models.Assets, error)
	UpdateDeploymentStatuses(ctx context.Context, aa models.Assets) (int64, error)
}

// Result summarizes a backfill run.
type Result struct {
	// Drafted is the number of surveys without deployment data set to draft.
	Drafted int64
	// Deployed and Archived count the assets with deployment data written
	// with each status.
	Deployed int64
	Archived int64
	// Batches is the number of bulk updates issued for assets with
	// deployment data.
	Batches int
}

// Total returns the number of assets written.
func (r Result) Total() int64 {
	return r.Drafted + r.Deployed + r.Archived
}

// Backfill sets the deployment status column of every asset that has one.
type Backfill struct {
	store     Store
	batchSize int
	progress  io.Writer
}

// Option configures a Backfill.
type Option func(*Backfill)

// WithBatchSize sets the number of assets read and written per round trip.
// Values lower than 1 are ignored.
func WithBatchSize(n int) Option {
	return func(b *Backfill) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithProgress renders a progress bar of the assets with deployment data to w.
func WithProgress(w io.Writer) Option {
	return func(b *Backfill) {
		b.progress = w
	}
}

// New builds a Backfill over store.
func New(store Store, opts ...Option) *Backfill {
	b := &Backfill{
		store:     store,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run backfills the deployment status in two phases. Surveys without
// deployment data are set to draft with a single statement. Assets with
// deployment data are then read in ID order and written in bulk, deployed
// when the payload is active and archived otherwise. Assets without
// deployment data that are not surveys are left untouched.
//
// Run is idempotent. Errors are returned as is without retries, so callers
// running it inside a transaction get all or nothing.
func (b *Backfill) Run(ctx context.Context) (res Result, err error) {
	done := metrics.BackfillRun()
	defer func() { done(err) }()

	start := time.Now()
	log := dcontext.GetLoggerWithField(ctx, "batch_size", b.batchSize)

	res.Drafted, err = b.store.MarkEmptySurveys(ctx, models.DeploymentStatusDraft)
	if err != nil {
		return res, fmt.Errorf("setting draft status: %w", err)
	}
	metrics.BackfilledAssets(models.DeploymentStatusDraft.String(), int(res.Drafted))
	log.WithField("count", res.Drafted).Info("surveys without deployment data set to draft")

	bar, err := b.progressBar(ctx)
	if err != nil {
		return res, err
	}

	batch := make(models.Assets, 0, min(b.batchSize, DefaultBatchSize))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := b.store.UpdateDeploymentStatuses(ctx, batch); err != nil {
			return fmt.Errorf("updating batch %d: %w", res.Batches+1, err)
		}
		res.Batches++
		metrics.BackfillBatch()
		if bar != nil {
			_ = bar.Add(len(batch))
		}
		log.WithFields(logrus.Fields{
			"batch":   res.Batches,
			"size":    len(batch),
			"last_id": batch[len(batch)-1].ID,
		}).Debug("deployment status batch written")
		batch = batch[:0]
		return nil
	}

	var lastID int64
	for {
		aa, err := b.store.FindWithDeploymentData(ctx, lastID, b.batchSize)
		if err != nil {
			return res, fmt.Errorf("reading assets after id %d: %w", lastID, err)
		}

		for _, a := range aa {
			status := a.DeploymentData.DeploymentStatus()
			a.DeploymentStatus = &status
			switch status {
			case models.DeploymentStatusDeployed:
				res.Deployed++
			default:
				res.Archived++
			}

			batch = append(batch, a)
			if len(batch) >= b.batchSize {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}

		if len(aa) < b.batchSize {
			break
		}
		lastID = aa[len(aa)-1].ID
	}

	if err := flush(); err != nil {
		return res, err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	metrics.BackfilledAssets(models.DeploymentStatusDeployed.String(), int(res.Deployed))
	metrics.BackfilledAssets(models.DeploymentStatusArchived.String(), int(res.Archived))

	log.WithFields(logrus.Fields{
		"drafted":    res.Drafted,
		"deployed":   res.Deployed,
		"archived":   res.Archived,
		"batches":    res.Batches,
		"duration_s": time.Since(start).Seconds(),
	}).Info("deployment status backfill complete")

	return res, nil
}

func (b *Backfill) progressBar(ctx context.Context) (*progressbar.ProgressBar, error) {
	if b.progress == nil {
		return nil, nil
	}

	total, err := b.store.CountWithDeploymentData(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting assets with deployment data: %w", err)
	}

	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(b.progress),
		progressbar.OptionSetDescription("deployment status"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("assets"),
		progressbar.OptionShowIts(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(b.progress) }),
	), nil
}

// PopulateDeploymentStatus runs a Backfill with the default batch size on q.
// It is the forward data step of the migration adding the deployment status
// column.
func PopulateDeploymentStatus(ctx context.Context, q datastore.Queryer) error {
	_, err := New(datastore.NewAssetStore(q)).Run(ctx)
	return err
}

// Noop is the reverse data step of the migration adding the deployment
// status column. Dropping the column discards the backfilled values.
func Noop(context.Context, datastore.Queryer) error {
	return nil
}
