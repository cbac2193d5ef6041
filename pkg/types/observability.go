package types

import "time"

// Trace is a recorded span.
type Trace struct {
	ID           string         `json:"id"`
	ParentSpanID string         `json:"parentSpanId,omitempty"`
	TraceID      string         `json:"traceId"`
	Name         string         `json:"name"`
	Scope        string         `json:"scope"`
	Kind         int            `json:"kind"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Status       map[string]any `json:"status,omitempty"`
	Events       []any          `json:"events,omitempty"`
	Links        []any          `json:"links,omitempty"`
	Other        map[string]any `json:"other,omitempty"`
	StartTime    int64          `json:"startTime"`
	EndTime      int64          `json:"endTime"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// GetTracesArgs filters traces. Name matches as a prefix; Attributes and
// Filters match exactly.
type GetTracesArgs struct {
	Name       string
	Scope      string
	Attributes map[string]string
	Filters    map[string]any
	Page       int
	PerPage    int
	DateRange  *DateRange
}

// PaginatedTraces is a page of traces.
type PaginatedTraces struct {
	PaginationInfo
	Traces []Trace `json:"traces"`
}

// Score is the result of running a scorer against an entity.
type Score struct {
	ID                   string         `json:"id"`
	ScorerID             string         `json:"scorerId"`
	TraceID              string         `json:"traceId,omitempty"`
	RunID                string         `json:"runId"`
	Scorer               map[string]any `json:"scorer,omitempty"`
	PreprocessStepResult map[string]any `json:"preprocessStepResult,omitempty"`
	AnalyzeStepResult    map[string]any `json:"analyzeStepResult,omitempty"`
	Score                float64        `json:"score"`
	Reason               string         `json:"reason,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	Input                any            `json:"input,omitempty"`
	Output               any            `json:"output,omitempty"`
	AdditionalContext    map[string]any `json:"additionalContext,omitempty"`
	RuntimeContext       map[string]any `json:"runtimeContext,omitempty"`
	EntityType           string         `json:"entityType,omitempty"`
	EntityID             string         `json:"entityId,omitempty"`
	Entity               map[string]any `json:"entity,omitempty"`
	Source               string         `json:"source,omitempty"`
	ResourceID           string         `json:"resourceId,omitempty"`
	ThreadID             string         `json:"threadId,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// PaginatedScores is a page of scores.
type PaginatedScores struct {
	PaginationInfo
	Scores []Score `json:"scores"`
}

// EvalType filters legacy evals by origin.
type EvalType string

const (
	EvalTypeAll  EvalType = ""
	EvalTypeTest EvalType = "test"
	EvalTypeLive EvalType = "live"
)

// EvalRow is a legacy evaluation record. Evals carrying TestInfo with a
// test path were produced by a test run; the rest are live.
type EvalRow struct {
	AgentName    string         `json:"agentName"`
	Input        string         `json:"input"`
	Output       string         `json:"output"`
	Result       map[string]any `json:"result"`
	MetricName   string         `json:"metricName"`
	Instructions string         `json:"instructions"`
	RunID        string         `json:"runId"`
	GlobalRunID  string         `json:"globalRunId"`
	TestInfo     map[string]any `json:"testInfo,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// GetEvalsArgs filters the paginated eval listing.
type GetEvalsArgs struct {
	AgentName string
	Type      EvalType
	Page      int
	PerPage   int
	DateRange *DateRange
}

// PaginatedEvals is a page of evals.
type PaginatedEvals struct {
	PaginationInfo
	Evals []EvalRow `json:"evals"`
}
