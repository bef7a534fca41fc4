//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/pipeline"
	"github.com/phrazzld/moments-api/internal/platform/postgres"
	"github.com/phrazzld/moments-api/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTaskLifecycleAgainstPostgres(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		tasks := postgres.NewPostgresTaskStore(db, quietLogger()).WithTx(tx)

		task, err := domain.NewTask(domain.DefaultTaskType, json.RawMessage(`{"userText":"hi"}`))
		require.NoError(t, err)
		id, err := tasks.CreateTaskWithSteps(ctx, task, pipeline.MomentsSteps)
		require.NoError(t, err)

		claimed, err := tasks.ClaimTask(ctx, id)
		require.NoError(t, err)
		assert.True(t, claimed)
		claimed, err = tasks.ClaimTask(ctx, id)
		require.NoError(t, err)
		assert.False(t, claimed, "a running task cannot be claimed twice")

		steps, err := tasks.GetTaskSteps(ctx, id)
		require.NoError(t, err)
		require.Len(t, steps, len(pipeline.MomentsSteps))
		for i, s := range steps {
			assert.Equal(t, i+1, s.Order)
			assert.Equal(t, pipeline.MomentsSteps[i].Key, s.Key)
			require.NoError(t, tasks.MarkStepRunning(ctx, s.ID))
			require.NoError(t, tasks.MarkStepSuccess(ctx, s.ID, json.RawMessage(`{"n":1}`)))
		}

		require.NoError(t, tasks.UpdateTaskResult(ctx, id, json.RawMessage(`{"optimizedText":"ok"}`)))

		got, err := tasks.GetTaskByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSuccess, got.Status)
		assert.JSONEq(t, `{"optimizedText":"ok"}`, string(got.Result))

		err = tasks.UpsertTaskError(ctx, id, "too late")
		assert.Error(t, err, "terminal tasks are immutable")
	})
}

func TestCreditsAndHistoryAgainstPostgres(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		users := postgres.NewPostgresUserStore(tx, quietLogger())
		accounts := postgres.NewPostgresAccountStore(tx, quietLogger())

		user, err := domain.NewUser(testdb.UniqueEmail(t), "a-long-enough-password")
		require.NoError(t, err)
		user.HashedPassword = "$2a$10$placeholderplaceholderplaceholderplaceholderplace"
		user.Password = ""
		require.NoError(t, users.Create(ctx, user))

		remaining, err := accounts.ConsumeCredit(ctx, user.ID, pipeline.CreditUsageKind, 1500*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultSignupCredits-1, remaining)

		entry, err := domain.NewHistoryEntry(user.ID, "in", "out")
		require.NoError(t, err)
		require.NoError(t, accounts.RecordHistory(ctx, entry))

		items, total, err := accounts.ListHistory(ctx, user.ID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, entry.ID, items[0].ID)
	})
}
