//go:build integration

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"frame-fulfillment/model"
	"frame-fulfillment/store"
)

func startPostgres(t *testing.T, ctx context.Context) (testcontainers.Container, *store.Postgres) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fulfillment",
			"POSTGRES_PASSWORD": "secret",
			"POSTGRES_DB":       "fulfillment",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://fulfillment:secret@%s:%s/fulfillment?sslmode=disable", host, port.Port())

	var pg *store.Postgres
	for i := 0; i < 10; i++ {
		pg, err = store.NewPostgres(ctx, dsn)
		if err == nil {
			if err = pg.Migrate(ctx); err == nil {
				break
			}
			pg.Close()
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err)
	return container, pg
}

func TestPostgresInsertGetIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pg := startPostgres(t, ctx)
	t.Cleanup(func() {
		pg.Close()
		_ = container.Terminate(ctx)
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	op := model.NewOperation(model.TypeOrderCreation, "order-1", []byte(`{"sku":"frame-a4"}`), now)
	op.NextRetryAt = &now
	require.NoError(t, pg.Insert(ctx, op))

	require.ErrorIs(t, pg.Insert(ctx, op), store.ErrDuplicateID)

	got, err := pg.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, model.TypeOrderCreation, got.Type)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.JSONEq(t, `{"sku":"frame-a4"}`, string(got.Payload))

	_, err = pg.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresConditionalClaimIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pg := startPostgres(t, ctx)
	t.Cleanup(func() {
		pg.Close()
		_ = container.Terminate(ctx)
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	op := model.NewOperation(model.TypeStatusRefresh, "order-2", nil, now)
	op.NextRetryAt = &now
	require.NoError(t, pg.Insert(ctx, op))

	processing := model.StatusProcessing
	attempts := 1
	patch := store.Patch{Status: &processing, Attempts: &attempts, LastAttemptAt: &now, ClearNextRetry: true}

	require.NoError(t, pg.UpdateStatus(ctx, op.ID, patch, model.StatusPending))
	require.ErrorIs(t, pg.UpdateStatus(ctx, op.ID, patch, model.StatusPending), store.ErrConflict)
	require.ErrorIs(t, pg.UpdateStatus(ctx, "missing", patch, model.StatusPending), store.ErrNotFound)

	got, err := pg.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.NextRetryAt)
}

func TestPostgresQueryDueOrderingIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pg := startPostgres(t, ctx)
	t.Cleanup(func() {
		pg.Close()
		_ = container.Terminate(ctx)
	})

	base := time.Now().UTC().Truncate(time.Microsecond)
	mk := func(subject string, due time.Time) *model.Operation {
		op := model.NewOperation(model.TypeNotificationSend, subject, nil, base)
		op.NextRetryAt = &due
		require.NoError(t, pg.Insert(ctx, op))
		return op
	}

	late := mk("order-late", base.Add(-time.Second))
	early := mk("order-early", base.Add(-time.Minute))
	mk("order-future", base.Add(time.Hour))

	due, err := pg.QueryDue(ctx, base, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	counts, err := pg.CountByStatus(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.StatusPending])
}
