package tasks

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"legalup_payments/internal/models"
)

// Runner executes due scheduled tasks and records their history
type Runner struct {
	db       *gorm.DB
	registry *Registry
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry) *Runner {
	return &Runner{db: db, registry: registry, now: time.Now}
}

// Run processes due tasks immediately and then on every tick until ctx is
// cancelled
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.ProcessDue(ctx)

	for {
		select {
		case <-ticker.C:
			r.ProcessDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessDue runs every active task whose due time has passed. It returns
// the number of tasks picked up.
func (r *Runner) ProcessDue(ctx context.Context) int {
	log.Println("Checking for pending tasks...")

	var pendingTasks []models.ScheduledTask
	if err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due asc").
		Find(&pendingTasks).Error; err != nil {
		log.Printf("Error fetching pending tasks: %v", err)
		return 0
	}

	if len(pendingTasks) == 0 {
		log.Println("No pending tasks found.")
		return 0
	}

	log.Printf("Found %d pending tasks.", len(pendingTasks))

	processed := 0
	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			break
		}
		r.Execute(ctx, task)
		processed++
	}
	return processed
}

// Execute runs one task, retrying up to MaxAttempt times, and moves it to
// its next state
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) {
	log.Printf("Processing task: %s (ID: %d)", task.TaskName, task.ID)

	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Printf("Task handler not found for: %s. Marking as failure.", task.TaskName)

		now := r.now()
		r.db.WithContext(ctx).Model(&task).Updates(map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		r.db.WithContext(ctx).Create(&models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	var (
		startTime time.Time
		err       error
	)
	for attempt := 1; attempt <= maxAttempt && ctx.Err() == nil; attempt++ {
		startTime = r.now()
		var result map[string]interface{}
		result, err = handler(ctx, task)
		runtimeMs := int(time.Since(startTime).Milliseconds())

		status := "success"
		if err != nil {
			status = "failure"
			result = map[string]interface{}{"error": err.Error()}
			log.Printf("Task %s failed (attempt %d/%d): %v", task.TaskName, attempt, maxAttempt, err)
		} else {
			log.Printf("Task %s completed successfully.", task.TaskName)
		}

		r.db.WithContext(ctx).Create(&models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           startTime,
			RuntimeMs:       runtimeMs,
			Status:          status,
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          result,
		})

		if err == nil {
			break
		}
	}

	taskUpdates := map[string]interface{}{
		"last_run": &startTime,
	}

	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		// a failed run does not stop the schedule
		nextDue := task.NextDue(r.now())
		if nextDue.After(task.Due) {
			taskUpdates["status"] = models.ScheduledTaskStatusActive
			taskUpdates["due"] = nextDue
		} else if err != nil {
			taskUpdates["status"] = models.ScheduledTaskStatusFailure
		} else {
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		}
	default:
		if err != nil {
			taskUpdates["status"] = models.ScheduledTaskStatusFailure
		} else {
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		}
	}

	r.db.WithContext(ctx).Model(&task).Updates(taskUpdates)
}
