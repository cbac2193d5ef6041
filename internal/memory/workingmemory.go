package memory

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blueberrycongee/convostore/internal/metrics"
	"github.com/blueberrycongee/convostore/internal/observability"
	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// Outcomes of a working memory update, also used as metric labels.
const (
	outcomeCreated  = "created"
	outcomeReplaced = "replaced"
	outcomeAppended = "appended"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// GetWorkingMemoryTemplate returns the configured template.
func (e *Engine) GetWorkingMemoryTemplate() string {
	return e.Config().WorkingMemory.Template
}

// GetWorkingMemory returns the stored working memory, or "" when none has
// been written yet.
func (e *Engine) GetWorkingMemory(ctx context.Context, req WorkingMemoryRequest) (string, error) {
	cfg := e.Config()
	if !cfg.WorkingMemory.Enabled {
		return "", nil
	}
	scope, id, err := e.workingMemoryKey(cfg, req)
	if err != nil {
		return "", err
	}
	return e.readWorkingMemory(ctx, scope, id)
}

// UpdateWorkingMemory merges upd.Content into the stored working memory.
// Updates of the same thread or resource are serialized; the stored value is
// read, merged and written while holding that key's mutex.
//
// A search string found in the stored value is replaced by the content.
// Otherwise content already present, or equal to the template, is skipped
// and anything else is appended on a new line. The template text itself is
// never kept in the stored value.
func (e *Engine) UpdateWorkingMemory(ctx context.Context, upd WorkingMemoryUpdate) (UpdateResult, error) {
	cfg := e.Config()
	if !cfg.WorkingMemory.Enabled {
		return UpdateResult{Reason: "working memory is disabled"},
			storeerrors.NewInvalidArgumentError("MEMORY_WORKING_MEMORY_DISABLED", "working memory is disabled", nil)
	}
	scope, id, err := e.workingMemoryKey(cfg, upd.WorkingMemoryRequest)
	if err != nil {
		return UpdateResult{Reason: err.Error()}, err
	}

	ctx, span := observability.StartMemorySpan(ctx, "update_working_memory",
		attribute.String("memory.scope", string(scope)),
		attribute.String("memory.key", id))
	defer span.End()

	start := time.Now()
	unlock, err := e.locks.Lock(ctx, string(scope)+":"+id)
	metrics.MutexWaitSeconds.WithLabelValues(string(scope)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(span, err)
		return UpdateResult{Reason: err.Error()}, err
	}
	defer unlock()

	result, err := e.updateLocked(ctx, cfg, scope, id, upd)
	if err != nil {
		observability.RecordError(span, err)
	}
	return result, err
}

func (e *Engine) updateLocked(ctx context.Context, cfg Config, scope Scope, id string, upd WorkingMemoryUpdate) (UpdateResult, error) {
	existing, err := e.readWorkingMemory(ctx, scope, id)
	if err != nil {
		metrics.WorkingMemoryUpdates.WithLabelValues(string(scope), outcomeFailed).Inc()
		return UpdateResult{Reason: err.Error()}, err
	}

	value, outcome, reason := mergeWorkingMemory(existing, upd.Content, upd.SearchString, cfg.WorkingMemory.Template)
	if outcome == outcomeSkipped {
		metrics.WorkingMemoryUpdates.WithLabelValues(string(scope), outcome).Inc()
		return UpdateResult{Reason: reason}, nil
	}

	if err := e.writeWorkingMemory(ctx, scope, id, value); err != nil {
		metrics.WorkingMemoryUpdates.WithLabelValues(string(scope), outcomeFailed).Inc()
		e.logger.Error("working memory update failed", "scope", scope, "id", id, "error", err)
		return UpdateResult{Reason: err.Error()}, err
	}
	metrics.WorkingMemoryUpdates.WithLabelValues(string(scope), outcome).Inc()
	return UpdateResult{Success: true, Reason: reason}, nil
}

// workingMemoryKey resolves the scope and key. Resource scope is rejected
// before any lock is taken when the store cannot hold resources.
func (e *Engine) workingMemoryKey(cfg Config, req WorkingMemoryRequest) (Scope, string, error) {
	scope := req.Scope
	if scope == "" {
		scope = cfg.WorkingMemory.Scope
	}
	switch scope {
	case ScopeResource:
		if !e.store.Capabilities().Supports(storage.CapResourceWorkingMemory) {
			return scope, "", storeerrors.NewUnsupportedError(string(storage.CapResourceWorkingMemory))
		}
		if req.ResourceID == "" {
			return scope, "", storeerrors.NewInvalidArgumentError("MEMORY_WORKING_MEMORY_INVALID",
				"resourceId is required for resource-scoped working memory", nil)
		}
		return scope, req.ResourceID, nil
	case ScopeThread:
		if req.ThreadID == "" {
			return scope, "", storeerrors.NewInvalidArgumentError("MEMORY_WORKING_MEMORY_INVALID",
				"threadId is required for thread-scoped working memory", nil)
		}
		return scope, req.ThreadID, nil
	default:
		return scope, "", storeerrors.NewInvalidArgumentError("MEMORY_WORKING_MEMORY_INVALID",
			"unknown working memory scope", map[string]any{"scope": string(scope)})
	}
}

func (e *Engine) readWorkingMemory(ctx context.Context, scope Scope, id string) (string, error) {
	if scope == ScopeResource {
		res, err := e.store.GetResourceByID(ctx, id)
		if err != nil || res == nil {
			return "", err
		}
		return res.WorkingMemory, nil
	}
	thread, err := e.store.GetThreadByID(ctx, id)
	if err != nil {
		return "", err
	}
	wm, _ := thread.WorkingMemory()
	return wm, nil
}

func (e *Engine) writeWorkingMemory(ctx context.Context, scope Scope, id, value string) error {
	if scope == ScopeResource {
		_, err := e.store.UpdateResource(ctx, types.UpdateResourceInput{ResourceID: id, WorkingMemory: &value})
		return err
	}
	_, err := e.store.UpdateThread(ctx, types.UpdateThreadInput{
		ID:       id,
		Metadata: map[string]any{"workingMemory": value},
	})
	return err
}

// mergeWorkingMemory computes the new stored value and the outcome.
func mergeWorkingMemory(existing, content, searchString, template string) (value, outcome, reason string) {
	tpl := strings.TrimSpace(template)
	trimmed := strings.TrimSpace(content)
	isTemplate := tpl != "" && trimmed == tpl
	if trimmed == "" {
		return existing, outcomeSkipped, "empty content, skipped"
	}

	switch {
	case strings.TrimSpace(existing) == "":
		if isTemplate {
			return existing, outcomeSkipped, "content equals the template, skipped"
		}
		value, outcome, reason = content, outcomeCreated, "working memory created"
	case searchString != "" && strings.Contains(existing, searchString):
		value = strings.Replace(existing, searchString, content, 1)
		outcome, reason = outcomeReplaced, "search string replaced"
	case isTemplate:
		return existing, outcomeSkipped, "content equals the template, skipped"
	case strings.Contains(existing, trimmed):
		return existing, outcomeSkipped, "duplicate, skipped"
	default:
		value, outcome, reason = existing+"\n"+content, outcomeAppended, "content appended"
	}

	value = stripTemplate(value, tpl)
	if value == "" {
		return existing, outcomeSkipped, "nothing left after removing the template, skipped"
	}
	return value, outcome, reason
}

func stripTemplate(value, tpl string) string {
	if tpl != "" {
		value = strings.ReplaceAll(value, tpl, "")
	}
	return strings.TrimSpace(value)
}
