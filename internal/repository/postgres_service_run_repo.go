package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/storycast/internal/model"
)

// PostgresServiceRunRepo はPostgreSQLを使用したサービス実行記録リポジトリ。
type PostgresServiceRunRepo struct {
	db *sql.DB
}

// NewPostgresServiceRunRepo はPostgresServiceRunRepoを生成する。
func NewPostgresServiceRunRepo(db *sql.DB) *PostgresServiceRunRepo {
	return &PostgresServiceRunRepo{db: db}
}

// Create は実行中の記録を作成する。
func (r *PostgresServiceRunRepo) Create(ctx context.Context, run *model.ServiceRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO service_runs (id, method, actor, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Method, nullString(run.Actor), run.StartedAt, run.Status,
	)
	if err != nil {
		return fmt.Errorf("サービス実行記録の作成に失敗しました: %w", err)
	}
	return nil
}

// Finish は記録をクローズする。
func (r *PostgresServiceRunRepo) Finish(ctx context.Context, run *model.ServiceRun) error {
	var finishedAt sql.NullTime
	if run.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}

	var durationMs sql.NullInt64
	if run.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *run.DurationMs, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE service_runs
		 SET finished_at = $2, duration_ms = $3, status = $4,
		     result = $5, error_message = $6
		 WHERE id = $1`,
		run.ID, finishedAt, durationMs, run.Status,
		nullString(run.Result), nullString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("サービス実行記録のクローズに失敗しました: %w", err)
	}
	return nil
}

// DeleteOlderThan はstarted_atがcutoffより古い記録を削除し、件数を返す。
func (r *PostgresServiceRunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM service_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("サービス実行記録の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return deleted, nil
}

// compile-time interface check
var _ ServiceRunRepository = (*PostgresServiceRunRepo)(nil)
