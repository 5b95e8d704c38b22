// Package jobs runs the background side of the reconciliation core: the
// periodic sweep that repairs partially-applied approvals and the scan that
// re-emits advisory back-order alerts.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileSweep re-verifies validated purchase orders against
	// their delivery notes and settles drifted invoice statuses.
	TaskReconcileSweep = "reconcile:sweep"
	// TaskBackorderScan re-emits advisory alerts for outstanding pre-order
	// demand.
	TaskBackorderScan = "backorder:scan"
)

// SweepPayload carries scheduling metadata for one sweep run.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReconcileSweepTask constructs the sweep task.
func NewReconcileSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileSweep, body, asynq.Queue(QueueDefault)), nil
}

// ScanPayload carries scheduling metadata for one back-order scan.
type ScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBackorderScanTask constructs the scan task.
func NewBackorderScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBackorderScan, body, asynq.Queue(QueueDefault)), nil
}
