package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/platform/logger"
	"github.com/phrazzld/moments-api/internal/store"
)

// PostgresAccountStore implements store.CreditStore and store.HistoryStore.
type PostgresAccountStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAccountStore creates an account store. If logger is nil, the
// default logger is used.
func NewPostgresAccountStore(db store.DBTX, logger *slog.Logger) *PostgresAccountStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAccountStore{
		db:     db,
		logger: logger.With(slog.String("component", "account_store")),
	}
}

var (
	_ store.CreditStore  = (*PostgresAccountStore)(nil)
	_ store.HistoryStore = (*PostgresAccountStore)(nil)
)

// ConsumeCredit implements store.CreditStore.ConsumeCredit. The debit and the
// usage log row are written in one transaction.
func (s *PostgresAccountStore) ConsumeCredit(
	ctx context.Context,
	userID uuid.UUID,
	kind string,
	duration time.Duration,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	var remaining int

	err := runAtomic(ctx, s.db, func(ctx context.Context, q store.DBTX) error {
		now := time.Now().UTC()
		err := q.QueryRowContext(ctx, `
			UPDATE users
			SET credits = credits - 1, updated_at = $2
			WHERE id = $1 AND credits > 0
			RETURNING credits
		`, userID, now).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := q.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("failed to look up user: %w", MapError(err))
			}
			if !exists {
				return store.ErrUserNotFound
			}
			return store.ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("failed to debit credit: %w", MapError(err))
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO analysis_logs (user_id, kind, duration_ms, created_at)
			VALUES ($1, $2, $3, $4)
		`, userID, kind, duration.Milliseconds(), now); err != nil {
			return fmt.Errorf("failed to log credit usage: %w", MapError(err))
		}
		return nil
	})
	if err != nil {
		log.Warn("failed to consume credit",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()),
			slog.String("kind", kind))
		return 0, err
	}

	log.Info("credit consumed",
		slog.String("user_id", userID.String()),
		slog.String("kind", kind),
		slog.Int("remaining", remaining))
	return remaining, nil
}

const historyColumns = `id, user_id, created_at, image_path, input_text, output_text, duration_ms,
	input_tokens, output_tokens, total_tokens, model_name, success, error_message`

// RecordHistory implements store.HistoryStore.RecordHistory.
func (s *PostgresAccountStore) RecordHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	if entry == nil || entry.UserID == uuid.Nil {
		return fmt.Errorf("%w: history entry needs a user", store.ErrInvalidEntity)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		entry.ID,
		entry.UserID,
		entry.CreatedAt,
		entry.ImagePath,
		entry.InputText,
		entry.OutputText,
		entry.DurationMs,
		entry.InputTokens,
		entry.OutputTokens,
		entry.TotalTokens,
		entry.ModelName,
		entry.Success,
		entry.ErrorMessage,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to record history",
			slog.String("error", err.Error()),
			slog.String("user_id", entry.UserID.String()))
		return fmt.Errorf("failed to record history: %w", MapError(err))
	}
	return nil
}

// ListHistory implements store.HistoryStore.ListHistory.
func (s *PostgresAccountStore) ListHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit, offset int,
) ([]*domain.HistoryEntry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_history WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", MapError(err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM analysis_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query history: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*domain.HistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, total, nil
}

// GetHistory implements store.HistoryStore.GetHistory.
func (s *PostgresAccountStore) GetHistory(ctx context.Context, id uuid.UUID) (*domain.HistoryEntry, error) {
	entry, err := scanHistory(s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM analysis_history WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrHistoryNotFound
		}
		return nil, fmt.Errorf("failed to get history entry: %w", MapError(err))
	}
	return entry, nil
}

func scanHistory(row rowScanner) (*domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	if err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.CreatedAt,
		&e.ImagePath,
		&e.InputText,
		&e.OutputText,
		&e.DurationMs,
		&e.InputTokens,
		&e.OutputTokens,
		&e.TotalTokens,
		&e.ModelName,
		&e.Success,
		&e.ErrorMessage,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
