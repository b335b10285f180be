package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	apperrors "github.com/Proton-105/clearity-bot/internal/errors"
)

// Repository persists responses.
type Repository interface {
	Insert(ctx context.Context, response *Response) error
	Count(ctx context.Context) (int64, error)
}

type responseRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewRepository creates a PostgreSQL-backed repository.
func NewRepository(db *sql.DB, log *slog.Logger) Repository {
	if log == nil {
		log = slog.Default()
	}

	return &responseRepository{
		db:  db,
		log: log,
	}
}

// Insert appends response and sets its ID.
func (r *responseRepository) Insert(ctx context.Context, response *Response) error {
	const query = `
		INSERT INTO responses (
			received_at, submitted_at, chaos_level, failure_rate, fight_noise, assistance,
			contributions, name, email, telegram, user_agent, ip_address
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		response.ReceivedAt,
		response.SubmittedAt,
		response.ChaosLevel,
		response.FailureRate,
		response.FightNoise,
		response.Assistance,
		response.Contributions,
		response.Name,
		response.Email,
		response.Telegram,
		response.UserAgent,
		response.IPAddress,
	).Scan(&response.ID)
	if err != nil {
		r.log.Error("failed to insert response", slog.Any("error", err))
		return apperrors.NewDatabaseError(fmt.Errorf("insert response: %w", err))
	}

	return nil
}

// Count returns the number of stored responses.
func (r *responseRepository) Count(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM responses`

	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("count responses: %w", err))
	}

	return n, nil
}
