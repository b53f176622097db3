package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"legalup_payments/internal/models"
	"legalup_payments/internal/services"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tasks.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, services.AutoMigrate(db))
	return db
}

func newTestRunner(db *gorm.DB, registry *Registry) *Runner {
	r := NewRunner(db, registry)
	r.now = func() time.Time { return testNow }
	return r
}

func createTask(t *testing.T, db *gorm.DB, name string, due time.Time, rule *string, taskType models.ScheduledTaskType, maxAttempt int) models.ScheduledTask {
	t.Helper()
	task, err := BuildScheduledTask(name, map[string]interface{}{"payment_id": "p-1"}, due, rule, taskType, maxAttempt)
	require.NoError(t, err)
	require.NoError(t, db.Create(task).Error)
	return *task
}

func reload(t *testing.T, db *gorm.DB, id uint) models.ScheduledTask {
	t.Helper()
	var task models.ScheduledTask
	require.NoError(t, db.First(&task, id).Error)
	return task
}

func histories(t *testing.T, db *gorm.DB, id uint) []models.ScheduledTaskHistory {
	t.Helper()
	var entries []models.ScheduledTaskHistory
	require.NoError(t, db.Where("scheduled_task_id = ?", id).Order("attempt_number asc").Find(&entries).Error)
	return entries
}

func TestRunnerOneTimeTask(t *testing.T) {
	db := newTestDB(t)
	registry := NewRegistry()

	var seen models.ScheduledTask
	registry.Register("echo", func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
		seen = task
		return map[string]interface{}{"ok": true}, nil
	})

	due := createTask(t, db, "echo", testNow.Add(-time.Minute), nil, models.ScheduledTaskTypeOneTime, 1)
	later := createTask(t, db, "echo", testNow.Add(time.Hour), nil, models.ScheduledTaskTypeOneTime, 1)

	processed := newTestRunner(db, registry).ProcessDue(context.Background())
	assert.Equal(t, 1, processed)
	assert.Equal(t, "p-1", seen.Arguments["payment_id"])

	assert.Equal(t, models.ScheduledTaskStatusDone, reload(t, db, due.ID).Status)
	assert.NotNil(t, reload(t, db, due.ID).LastRun)
	assert.Equal(t, models.ScheduledTaskStatusActive, reload(t, db, later.ID).Status)

	entries := histories(t, db, due.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "success", entries[0].Status)
	assert.Equal(t, true, entries[0].Result["ok"])
}

func TestRunnerRetriesUpToMaxAttempt(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		maxAttempt int
		wantRuns   int
		wantStatus models.ScheduledTaskStatus
	}{
		{name: "succeeds on third attempt", failures: 2, maxAttempt: 3, wantRuns: 3, wantStatus: models.ScheduledTaskStatusDone},
		{name: "gives up", failures: 5, maxAttempt: 2, wantRuns: 2, wantStatus: models.ScheduledTaskStatusFailure},
		{name: "single attempt", failures: 1, maxAttempt: 1, wantRuns: 1, wantStatus: models.ScheduledTaskStatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			registry := NewRegistry()

			runs := 0
			registry.Register("flaky", func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
				runs++
				if runs <= tt.failures {
					return nil, errors.New("gateway unavailable")
				}
				return map[string]interface{}{}, nil
			})

			task := createTask(t, db, "flaky", testNow.Add(-time.Minute), nil, models.ScheduledTaskTypeOneTime, tt.maxAttempt)
			newTestRunner(db, registry).ProcessDue(context.Background())

			assert.Equal(t, tt.wantRuns, runs)
			assert.Equal(t, tt.wantStatus, reload(t, db, task.ID).Status)

			entries := histories(t, db, task.ID)
			require.Len(t, entries, tt.wantRuns)
			assert.Equal(t, "failure", entries[0].Status)
			assert.Equal(t, "gateway unavailable", entries[0].Result["error"])
			assert.Equal(t, tt.wantRuns, entries[len(entries)-1].AttemptNumber)
		})
	}
}

func TestRunnerReschedulesRecurringTask(t *testing.T) {
	for _, fail := range []bool{false, true} {
		db := newTestDB(t)
		registry := NewRegistry()
		registry.Register("reconcile", func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
			if fail {
				return nil, errors.New("database unavailable")
			}
			return map[string]interface{}{}, nil
		})

		rule := "FREQ=MINUTELY;INTERVAL=5"
		task := createTask(t, db, "reconcile", testNow.Add(-time.Minute), &rule, models.ScheduledTaskTypeRecurring, 1)

		newTestRunner(db, registry).ProcessDue(context.Background())

		got := reload(t, db, task.ID)
		assert.Equal(t, models.ScheduledTaskStatusActive, got.Status, "fail=%v", fail)
		assert.True(t, got.Due.Equal(testNow.Add(4*time.Minute)), "fail=%v due=%s", fail, got.Due)
	}
}

func TestRunnerMissingHandler(t *testing.T) {
	db := newTestDB(t)
	task := createTask(t, db, "retired_task", testNow.Add(-time.Minute), nil, models.ScheduledTaskTypeOneTime, 3)

	newTestRunner(db, NewRegistry()).ProcessDue(context.Background())

	assert.Equal(t, models.ScheduledTaskStatusFailure, reload(t, db, task.ID).Status)
	entries := histories(t, db, task.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "handler_not_found", entries[0].Status)
}

func TestEnsureRecurring(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rule := "FREQ=MINUTELY;INTERVAL=5"

	build := func() *models.ScheduledTask {
		task, err := BuildScheduledTask(ReconcilePaymentsTaskID, ReconcileArgs{}, testNow, &rule, models.ScheduledTaskTypeRecurring, 3)
		require.NoError(t, err)
		return task
	}

	created, err := EnsureRecurring(ctx, db, build())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureRecurring(ctx, db, build())
	require.NoError(t, err)
	assert.False(t, created)

	var n int64
	require.NoError(t, db.Model(&models.ScheduledTask{}).Where("task_name = ?", ReconcilePaymentsTaskID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestBuildScheduledTaskArguments(t *testing.T) {
	task, err := BuildScheduledTask(ReconcilePaymentsTaskID, ReconcileArgs{StaleAfter: "10m", BatchSize: 20}, testNow, nil, models.ScheduledTaskTypeOneTime, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, task.MaxAttempt)
	assert.Equal(t, models.ScheduledTaskStatusActive, task.Status)
	assert.Equal(t, 10*time.Minute, argDuration(task.Arguments, "stale_after", time.Hour))
	assert.Equal(t, time.Hour, argDuration(task.Arguments, "expire_after", time.Hour))
	assert.Equal(t, 20, argInt(task.Arguments, "batch_size", 50))
	assert.Equal(t, 5, argInt(task.Arguments, "workers", 5))
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	DefineTasks(registry, nil, services.ReconcileOptions{})

	assert.Equal(t, []string{ReconcilePaymentsTaskID, RefreshPaymentTaskID}, registry.Names())

	_, ok := registry.Get("unknown")
	assert.False(t, ok)
}
