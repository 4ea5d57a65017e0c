package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"chapterfin/internal/models"
	"chapterfin/internal/services"
	"chapterfin/internal/tasks"
)

const (
	tickInterval = 1 * time.Minute
	tickLockKey  = "worker:tick"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	cache, err := services.NewRedisCache(os.Getenv("REDIS_URL"))
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer cache.Close()

	// Wire the services the task handlers depend on
	records := services.NewGormRecordStore(db)
	intents := services.NewGormIntentStore(db)
	configs := services.NewGormConfigStore(db)
	members := services.NewGormMemberStore(db)
	installmentStore := services.NewGormInstallmentStore(db)
	taskQueue := services.NewGormTaskEnqueuer(db)

	payments := services.NewPaymentService(records, intents, services.NewStripeService(), services.LoadFeeConfig())
	installments := services.NewInstallmentService(records, installmentStore, payments, taskQueue)
	batch := services.NewBatchService(configs, members, records)

	tasks.DefineTasks(tasks.Deps{
		Payments:     payments,
		Installments: installments,
		Batch:        batch,
		Configs:      configs,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down worker...")
		cancel()
	}()

	seedRecurringTasks(ctx, db)

	log.Println("Worker started. Waiting for next tick...")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	runTick(ctx, db, cache)
	for {
		select {
		case <-ticker.C:
			runTick(ctx, db, cache)
		case <-ctx.Done():
			return
		}
	}
}

// seedRecurringTasks makes sure the always-on maintenance tasks exist
func seedRecurringTasks(ctx context.Context, db *gorm.DB) {
	reconcile := tasks.NewRecurringTask(tasks.TaskReconcileIntents, nil, time.Now(), "FREQ=HOURLY", 3)
	err := db.WithContext(ctx).
		Where("task_name = ? AND status = ?", tasks.TaskReconcileIntents, models.ScheduledTaskStatusActive).
		FirstOrCreate(reconcile).Error
	if err != nil {
		log.Printf("Error seeding reconcile task: %v", err)
	}
}

// runTick claims the tick lock so only one worker replica processes the
// queue, then runs every due task
func runTick(ctx context.Context, db *gorm.DB, cache *services.RedisCache) {
	acquired, err := cache.AcquireLock(ctx, tickLockKey, tickInterval)
	if err != nil {
		log.Printf("Error acquiring tick lock: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := cache.ReleaseLock(ctx, tickLockKey); err != nil {
			log.Printf("Error releasing tick lock: %v", err)
		}
	}()

	processScheduledTasks(ctx, db)
}

func processScheduledTasks(ctx context.Context, db *gorm.DB) {
	var pendingTasks []models.ScheduledTask
	now := time.Now()
	if err := db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Find(&pendingTasks).Error; err != nil {
		log.Printf("Error fetching pending tasks: %v", err)
		return
	}

	if len(pendingTasks) == 0 {
		return
	}

	log.Printf("Found %d pending tasks.", len(pendingTasks))

	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			return
		}
		executeTask(ctx, db, task, 1)
	}
}

func executeTask(ctx context.Context, db *gorm.DB, task models.ScheduledTask, curAttempt int) {
	log.Printf("Processing task: %s (ID: %d)", task.TaskName, task.ID)

	handler, found := tasks.GetHandler(task.TaskName)
	if !found {
		log.Printf("Task handler not found for: %s. Marking as failure.", task.TaskName)
		now := time.Now()
		db.Model(&task).Updates(map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		db.Create(&models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   curAttempt,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		return
	}

	startTime := time.Now()
	result, err := handler(ctx, task.Arguments)
	runtimeMs := int(time.Since(startTime).Milliseconds())

	status := "success"
	resultData := result
	if err != nil {
		status = "failure"
		resultData = map[string]interface{}{"error": err.Error()}
		log.Printf("Task %s failed: %v", task.TaskName, err)
	} else {
		log.Printf("Task %s completed successfully.", task.TaskName)
	}

	db.Create(&models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		RuntimeMs:       runtimeMs,
		Status:          status,
		AttemptNumber:   curAttempt,
		Arguments:       task.Arguments,
		Result:          resultData,
	})

	taskUpdates := map[string]interface{}{
		"last_run": &startTime,
	}

	if status != "success" {
		if curAttempt < task.MaxAttempt {
			executeTask(ctx, db, task, curAttempt+1)
			return
		}
		taskUpdates["status"] = models.ScheduledTaskStatusFailure
	} else {
		switch task.TaskType {
		case models.ScheduledTaskTypeOneTime:
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		case models.ScheduledTaskTypeRecurring:
			nextDue := task.NextDue()
			// the next due must be in the future, otherwise the task
			// would run again on the very next tick
			if nextDue.After(task.Due) {
				taskUpdates["status"] = models.ScheduledTaskStatusActive
				taskUpdates["due"] = nextDue
			} else {
				taskUpdates["status"] = models.ScheduledTaskStatusDone
			}
		}
	}

	db.Model(&task).Updates(taskUpdates)
}
