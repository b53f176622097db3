package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"legalup_payments/internal/models"
	"legalup_payments/internal/tasks"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule [task-name]",
		Short: "Schedule a worker task",
		Long: `Schedule a task for the worker.

Examples:
  paymentsctl schedule refresh_payment --arguments '{"payment_id":"..."}'
  paymentsctl schedule reconcile_payments --due "2026-01-02 03:00" --tasktype recurring --recurring "FREQ=HOURLY"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			argsStr, _ := cmd.Flags().GetString("arguments")
			dueStr, _ := cmd.Flags().GetString("due")
			taskType, _ := cmd.Flags().GetString("tasktype")
			recurring, _ := cmd.Flags().GetString("recurring")
			maxAttempt, _ := cmd.Flags().GetInt("max-attempt")

			var taskArgs map[string]interface{}
			if err := json.Unmarshal([]byte(argsStr), &taskArgs); err != nil {
				return fmt.Errorf("invalid JSON arguments: %w", err)
			}

			due, err := parseDue(dueStr)
			if err != nil {
				return err
			}

			var recurringPtr *string
			if recurring != "" {
				recurringPtr = &recurring
			}

			kind := models.ScheduledTaskType(taskType)
			if kind != models.ScheduledTaskTypeOneTime && kind != models.ScheduledTaskTypeRecurring {
				return fmt.Errorf("unknown task type %q", taskType)
			}
			if kind == models.ScheduledTaskTypeRecurring && recurringPtr == nil {
				return fmt.Errorf("--recurring is required for recurring tasks")
			}

			task, err := tasks.BuildScheduledTask(args[0], taskArgs, due, recurringPtr, kind, maxAttempt)
			if err != nil {
				return err
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			if err := db.WithContext(cmd.Context()).Create(task).Error; err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Successfully created task ID: %d\n", task.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
			return nil
		},
	}

	cmd.Flags().String("arguments", "{}", "JSON arguments for the task")
	cmd.Flags().String("due", "", "Due date, RFC3339 or '2006-01-02 15:04' local time (default now)")
	cmd.Flags().String("tasktype", string(models.ScheduledTaskTypeOneTime), "Task type: onetime or recurring")
	cmd.Flags().String("recurring", "", "RRULE for recurring tasks, e.g. FREQ=MINUTELY;INTERVAL=5")
	cmd.Flags().Int("max-attempt", 3, "Max attempts per run")

	return cmd
}

func parseDue(value string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	if due, err := time.Parse(time.RFC3339, value); err == nil {
		return due, nil
	}
	due, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date format, use '2006-01-02 15:04' (local) or RFC3339: %w", err)
	}
	return due, nil
}
