package tasks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chapterfin/internal/services"
)

// Task names the worker dispatches on
const (
	TaskLateFeeSweep     = "late_fee_sweep"
	TaskReconcileIntents = "reconcile_intents"
)

// Deps carries the services the dues task handlers close over
type Deps struct {
	Payments     *services.PaymentService
	Installments *services.InstallmentService
	Batch        *services.BatchService
	Configs      services.ConfigStore
}

// DefineTasks registers the dues task handlers with the global registry
func DefineTasks(deps Deps) {
	RegisterHandler(services.TaskChargeInstallment, chargeInstallmentHandler(deps))
	RegisterHandler(TaskLateFeeSweep, lateFeeSweepHandler(deps))
	RegisterHandler(TaskReconcileIntents, reconcileIntentsHandler(deps))
}

// chargeInstallmentHandler charges one installment when its scheduled
// date arrives
func chargeInstallmentHandler(deps Deps) TaskHandler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		id, err := uintArg(args, "installment_payment_id")
		if err != nil {
			return nil, err
		}

		intent, err := deps.Installments.ChargeDueInstallment(ctx, id)
		if err != nil {
			if _, ok := err.(*services.ConflictError); ok {
				// Already charged, plan cancelled, or nothing owed
				return map[string]interface{}{"status": "skipped", "reason": err.Error()}, nil
			}
			return nil, err
		}

		return map[string]interface{}{
			"status":       "charged",
			"processor_id": intent.ProcessorID,
		}, nil
	}
}

// lateFeeSweepHandler runs the late-fee batch for one configuration. The
// sweep is idempotent per overdue window, so a recurring daily run is safe.
func lateFeeSweepHandler(deps Deps) TaskHandler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		configID, err := uintArg(args, "config_id")
		if err != nil {
			return nil, err
		}
		cfg, err := deps.Configs.Get(ctx, configID)
		if err != nil {
			return nil, err
		}

		result, err := deps.Batch.ApplyLateFees(ctx, services.SystemCaller(cfg.ChapterID), configID, time.Now())
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"status":  "success",
			"applied": result.Applied,
			"skipped": result.Skipped,
			"errors":  result.Errors,
		}, nil
	}
}

// reconcileIntentsHandler sweeps stale in-flight intents against the
// processor so lost settlement callbacks are caught
func reconcileIntentsHandler(deps Deps) TaskHandler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		cutoff := time.Now().Add(-30 * time.Minute)
		changed, err := deps.Payments.ReconcileIntents(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		for _, intent := range changed {
			if err := deps.Installments.HandleIntentSettled(ctx, intent); err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{
			"status":     "success",
			"reconciled": len(changed),
		}, nil
	}
}

// uintArg reads an id argument that may arrive as a string, float64 or
// integer depending on the JSON round trip
func uintArg(args map[string]interface{}, key string) (uint, error) {
	switch v := args[key].(type) {
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %s is not a valid id: %w", key, err)
		}
		return uint(parsed), nil
	case float64:
		return uint(v), nil
	case int:
		return uint(v), nil
	case uint:
		return v, nil
	default:
		return 0, fmt.Errorf("argument %s missing or invalid", key)
	}
}
