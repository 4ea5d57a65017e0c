package tasks

import (
	"time"

	"chapterfin/internal/models"
)

// NewRecurringTask builds an active recurring ScheduledTask following an
// RFC 5545 RRULE, first due at the given time
func NewRecurringTask(taskName string, args map[string]interface{}, firstDue time.Time, rrule string, maxAttempt int) *models.ScheduledTask {
	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         args,
		Due:               firstDue,
		RecurringInterval: &rrule,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          models.ScheduledTaskTypeRecurring,
		MaxAttempt:        maxAttempt,
	}
}

// NewOneTimeTask builds an active one-shot ScheduledTask
func NewOneTimeTask(taskName string, args map[string]interface{}, due time.Time, maxAttempt int) *models.ScheduledTask {
	return &models.ScheduledTask{
		TaskName:   taskName,
		Arguments:  args,
		Due:        due,
		Status:     models.ScheduledTaskStatusActive,
		TaskType:   models.ScheduledTaskTypeOneTime,
		MaxAttempt: maxAttempt,
	}
}
