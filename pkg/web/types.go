package web

// CreateExecutionRequest is the body for creating an execution on a
// workflow. Start false reserves only, leaving the caller a window to
// subscribe to the execution's topic before anything runs.
type CreateExecutionRequest struct {
	Start bool `json:"start"`
}

// ScheduleRequest is the body for attaching a cron cadence to a workflow.
type ScheduleRequest struct {
	CronExpression string `json:"cron_expression" validate:"required"`
}
