package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"legalup_payments/internal/models"
)

// BuildScheduledTask is a helper to build ScheduledTask records generically
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	mapArgs := map[string]interface{}{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	if maxAttempt < 1 {
		maxAttempt = 1
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// EnsureRecurring creates the recurring task unless an active one with the
// same name already exists. It reports whether a task was created.
func EnsureRecurring(ctx context.Context, db *gorm.DB, task *models.ScheduledTask) (bool, error) {
	var existing models.ScheduledTask
	err := db.WithContext(ctx).
		Where("task_name = ? AND task_type = ? AND status = ?", task.TaskName, models.ScheduledTaskTypeRecurring, models.ScheduledTaskStatusActive).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		return false, err
	}
	return true, nil
}

func argInt(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

func argDuration(args map[string]interface{}, key string, fallback time.Duration) time.Duration {
	if s, ok := args[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
