package types

import "time"

// WorkflowRun is the stored snapshot of one workflow execution, keyed by
// (WorkflowName, RunID).
type WorkflowRun struct {
	WorkflowName string         `json:"workflowName"`
	RunID        string         `json:"runId"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Snapshot     map[string]any `json:"snapshot"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// WorkflowRuns is a page of runs. Total counts every match regardless of
// the page window.
type WorkflowRuns struct {
	Runs  []WorkflowRun `json:"runs"`
	Total int           `json:"total"`
}

// GetWorkflowRunsArgs filters workflow runs. Limit <= 0 returns every match.
type GetWorkflowRunsArgs struct {
	WorkflowName string
	ResourceID   string
	FromDate     *time.Time
	ToDate       *time.Time
	Limit        int
	Offset       int
}
