package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kpi-project/assetdb/assetdb/datastore/metrics"
	"github.com/kpi-project/assetdb/assetdb/datastore/models"
)

// maxUpdateRows caps the rows of a single bulk update statement. Each row
// binds two parameters and Postgres accepts at most 65535 per statement.
const maxUpdateRows = 32000

// maxPrealloc bounds the capacity reserved up front for query results, so a
// large limit does not allocate before any row is read.
const maxPrealloc = 2000

// ErrAssetNotFound is returned when an asset lookup has no match.
var ErrAssetNotFound = errors.New("asset not found")

// AssetStore is the interface that an asset store should conform to.
type AssetStore interface {
	// FindByID finds an asset by its primary key.
	FindByID(ctx context.Context, id int64) (*models.Asset, error)
	// Create saves a new asset, setting its ID and timestamps.
	Create(ctx context.Context, a *models.Asset) error
	// MarkEmptySurveys sets the deployment status of all surveys whose
	// deployment data is an empty object in a single statement.
	MarkEmptySurveys(ctx context.Context, status models.DeploymentStatus) (int64, error)
	// CountWithDeploymentData counts assets with non-empty deployment data.
	CountWithDeploymentData(ctx context.Context) (int64, error)
	// FindWithDeploymentData returns up to limit assets with non-empty
	// deployment data and an ID greater than afterID, ordered by ID.
	FindWithDeploymentData(ctx context.Context, afterID int64, limit int) (models.Assets, error)
	// UpdateDeploymentStatuses writes the deployment status of each asset.
	// Only the status column is written.
	UpdateDeploymentStatuses(ctx context.Context, aa models.Assets) (int64, error)
	// CountByDeploymentStatus counts assets per deployment status. Assets
	// without a status are counted under the empty key.
	CountByDeploymentStatus(ctx context.Context) (map[models.DeploymentStatus]int64, error)
}

type assetStore struct {
	// db can be either a *sql.DB or *sql.Tx
	db Queryer
}

// NewAssetStore builds a new asset store.
func NewAssetStore(db Queryer) AssetStore {
	return &assetStore{db: db}
}

func scanFullAsset(row *sql.Row) (*models.Asset, error) {
	a := new(models.Asset)
	var (
		data   []byte
		status sql.NullString
	)

	err := row.Scan(&a.ID, &a.UID, &a.Name, &a.AssetType, &data, &status, &a.PendingDelete, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("scanning asset: %w", classifyError(err))
	}

	if a.DeploymentData, err = models.ParseDeploymentData(data); err != nil {
		return nil, fmt.Errorf("asset %d: %w", a.ID, err)
	}
	if status.Valid {
		s := models.DeploymentStatus(status.String)
		a.DeploymentStatus = &s
	}

	return a, nil
}

func (s *assetStore) FindByID(ctx context.Context, id int64) (*models.Asset, error) {
	defer metrics.InstrumentQuery("asset_find_by_id")()

	q := `SELECT
			id,
			uid,
			name,
			asset_type,
			_deployment_data,
			_deployment_status,
			pending_delete,
			date_created,
			date_modified
		FROM
			kpi_asset
		WHERE
			id = $1`

	return scanFullAsset(s.db.QueryRowContext(ctx, q, id))
}

func (s *assetStore) Create(ctx context.Context, a *models.Asset) error {
	defer metrics.InstrumentQuery("asset_create")()

	q := `INSERT INTO kpi_asset (uid, name, asset_type, _deployment_data, _deployment_status, pending_delete)
			VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING
			id, date_created, date_modified`

	data, err := a.DeploymentData.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding deployment data: %w", err)
	}
	var status sql.NullString
	if a.DeploymentStatus != nil {
		status = sql.NullString{String: a.DeploymentStatus.String(), Valid: true}
	}

	row := s.db.QueryRowContext(ctx, q, a.UID, a.Name, string(a.AssetType), string(data), status, a.PendingDelete)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("creating asset: %w", classifyError(err))
	}

	return nil
}

func (s *assetStore) MarkEmptySurveys(ctx context.Context, status models.DeploymentStatus) (int64, error) {
	defer metrics.InstrumentQuery("asset_mark_empty_surveys")()

	q := `UPDATE
			kpi_asset
		SET
			_deployment_status = $1
		WHERE
			asset_type = $2
			AND _deployment_data = '{}'::jsonb`

	res, err := s.db.ExecContext(ctx, q, status.String(), string(models.AssetTypeSurvey))
	if err != nil {
		return 0, fmt.Errorf("marking surveys without deployment data: %w", classifyError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting marked surveys: %w", err)
	}

	return n, nil
}

func (s *assetStore) CountWithDeploymentData(ctx context.Context) (int64, error) {
	defer metrics.InstrumentQuery("asset_count_with_deployment_data")()

	q := `SELECT
			COUNT(*)
		FROM
			kpi_asset
		WHERE
			_deployment_data <> '{}'::jsonb`

	var count int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting assets with deployment data: %w", classifyError(err))
	}

	return count, nil
}

func (s *assetStore) FindWithDeploymentData(ctx context.Context, afterID int64, limit int) (models.Assets, error) {
	defer metrics.InstrumentQuery("asset_find_with_deployment_data")()

	q := `SELECT
			id,
			_deployment_data
		FROM
			kpi_asset
		WHERE
			_deployment_data <> '{}'::jsonb
			AND id > $1
		ORDER BY
			id
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("finding assets with deployment data: %w", classifyError(err))
	}
	defer rows.Close()

	aa := make(models.Assets, 0, min(limit, maxPrealloc))
	for rows.Next() {
		a := new(models.Asset)
		var data []byte
		if err := rows.Scan(&a.ID, &data); err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		if a.DeploymentData, err = models.ParseDeploymentData(data); err != nil {
			return nil, fmt.Errorf("asset %d: %w", a.ID, err)
		}
		aa = append(aa, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating over assets: %w", classifyError(err))
	}

	return aa, nil
}

func (s *assetStore) UpdateDeploymentStatuses(ctx context.Context, aa models.Assets) (int64, error) {
	var total int64
	for start := 0; start < len(aa); start += maxUpdateRows {
		end := min(start+maxUpdateRows, len(aa))
		n, err := s.updateDeploymentStatuses(ctx, aa[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *assetStore) updateDeploymentStatuses(ctx context.Context, aa models.Assets) (int64, error) {
	defer metrics.InstrumentQuery("asset_update_deployment_statuses")()

	values := make([]string, 0, len(aa))
	args := make([]any, 0, len(aa)*2)
	for i, a := range aa {
		if a.DeploymentStatus == nil {
			return 0, fmt.Errorf("asset %d has no deployment status to write", a.ID)
		}
		values = append(values, fmt.Sprintf("($%d::bigint, $%d::varchar)", 2*i+1, 2*i+2))
		args = append(args, a.ID, a.DeploymentStatus.String())
	}

	q := `UPDATE
			kpi_asset AS a
		SET
			_deployment_status = v.status
		FROM (
			VALUES ` + strings.Join(values, ", ") + `) AS v (id, status)
		WHERE
			a.id = v.id`

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("updating deployment statuses: %w", classifyError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting updated assets: %w", err)
	}

	return n, nil
}

func (s *assetStore) CountByDeploymentStatus(ctx context.Context) (map[models.DeploymentStatus]int64, error) {
	defer metrics.InstrumentQuery("asset_count_by_deployment_status")()

	q := `SELECT
			COALESCE(_deployment_status, ''),
			COUNT(*)
		FROM
			kpi_asset
		GROUP BY
			1`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("counting assets by deployment status: %w", classifyError(err))
	}
	defer rows.Close()

	counts := make(map[models.DeploymentStatus]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning deployment status count: %w", err)
		}
		counts[models.DeploymentStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating over deployment status counts: %w", classifyError(err))
	}

	return counts, nil
}
