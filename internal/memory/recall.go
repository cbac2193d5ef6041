package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blueberrycongee/convostore/internal/memory/vector"
	"github.com/blueberrycongee/convostore/internal/metrics"
	"github.com/blueberrycongee/convostore/internal/observability"
	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// Metadata keys stored with every indexed chunk.
const (
	metaMessageID  = "message_id"
	metaThreadID   = "thread_id"
	metaResourceID = "resource_id"
)

// Embed chunks text and embeds every chunk. Results are cached by the hash
// of the whole text, so repeated calls for the same text reach the provider
// once.
func (e *Engine) Embed(ctx context.Context, text string) (*EmbeddingEntry, error) {
	if e.embedder == nil {
		return nil, storeerrors.NewConfigurationError("MEMORY_EMBEDDER_REQUIRED", "no embedder configured")
	}
	key := CacheKey(text)
	if entry, ok := e.cache.Get(ctx, key); ok {
		return entry, nil
	}

	chunks := chunkText(text, e.Config().ChunkTokens*charsPerToken)
	if len(chunks) == 0 {
		return &EmbeddingEntry{}, nil
	}
	vectors, err := e.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, storeerrors.NewBackendError("MEMORY_EMBED_FAILED", err, map[string]any{
			"model":  e.embedder.Model(),
			"chunks": len(chunks),
		})
	}
	if len(vectors) != len(chunks) {
		return nil, storeerrors.NewBackendError("MEMORY_EMBED_FAILED",
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)),
			map[string]any{"model": e.embedder.Model()})
	}

	entry := &EmbeddingEntry{Chunks: chunks, Vectors: vectors, Dimension: len(vectors[0])}
	e.cache.Set(ctx, key, entry)
	return entry, nil
}

// SaveMessages persists messages and, when semantic recall indexes on
// write, embeds and indexes them in the background. Indexing failures are
// logged and never fail the save; WaitIndexing awaits them.
func (e *Engine) SaveMessages(ctx context.Context, messages []types.Message) ([]types.Message, error) {
	saved, err := e.store.SaveMessages(ctx, messages)
	if err != nil {
		return nil, err
	}
	cfg := e.Config()
	if cfg.SemanticRecall.Enabled && cfg.SemanticRecall.IndexOnWrite && len(saved) > 0 {
		batch := append([]types.Message(nil), saved...)
		e.indexing.Add(1)
		go func() {
			defer e.indexing.Done()
			e.indexMessages(context.WithoutCancel(ctx), cfg, batch)
		}()
	}
	return saved, nil
}

// IndexMessages embeds and indexes messages synchronously.
func (e *Engine) IndexMessages(ctx context.Context, messages []types.Message) error {
	cfg := e.Config()
	if !cfg.SemanticRecall.Enabled {
		return nil
	}
	resources := make(map[string]string)
	var errs []error
	for _, m := range messages {
		if err := e.indexMessage(ctx, cfg, m, resources); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) indexMessages(ctx context.Context, cfg Config, messages []types.Message) {
	ctx, span := observability.StartMemorySpan(ctx, "index_messages",
		attribute.Int("memory.messages", len(messages)))
	defer span.End()

	resources := make(map[string]string)
	for _, m := range messages {
		if err := e.indexMessage(ctx, cfg, m, resources); err != nil {
			metrics.IndexingFailures.Inc()
			observability.RecordError(span, err)
			e.logger.Error("semantic indexing failed",
				"message_id", m.ID,
				"thread_id", m.ThreadID,
				"error", err)
		}
	}
}

func (e *Engine) indexMessage(ctx context.Context, cfg Config, m types.Message, resources map[string]string) error {
	text := m.Text()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	entry, err := e.Embed(ctx, text)
	if err != nil {
		return err
	}
	if len(entry.Vectors) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx, cfg.IndexName, entry.Dimension); err != nil {
		return err
	}

	resourceID := m.ResourceID
	if resourceID == "" {
		if resourceID, err = e.threadResource(ctx, m.ThreadID, resources); err != nil {
			return err
		}
	}

	ids := make([]string, len(entry.Vectors))
	metadata := make([]map[string]any, len(entry.Vectors))
	for i := range entry.Vectors {
		ids[i] = fmt.Sprintf("%s_%d", m.ID, i)
		metadata[i] = map[string]any{
			metaMessageID:  m.ID,
			metaThreadID:   m.ThreadID,
			metaResourceID: resourceID,
		}
	}
	return e.index.Upsert(ctx, cfg.IndexName, entry.Vectors, metadata, ids)
}

func (e *Engine) threadResource(ctx context.Context, threadID string, seen map[string]string) (string, error) {
	if id, ok := seen[threadID]; ok {
		return id, nil
	}
	thread, err := e.store.GetThreadByID(ctx, threadID)
	if err != nil {
		return "", err
	}
	var id string
	if thread != nil {
		id = thread.ResourceID
	}
	seen[threadID] = id
	return id, nil
}

func (e *Engine) ensureIndex(ctx context.Context, name string, dimension int) error {
	if _, ok := e.indexes.Load(name); ok {
		return nil
	}
	if err := e.index.CreateIndex(ctx, name, dimension); err != nil {
		return err
	}
	e.indexes.Store(name, dimension)
	return nil
}

// Recall returns the recent messages of a thread merged with the windows
// around messages similar to req.Query, deduplicated and in ascending
// createdAt order.
func (e *Engine) Recall(ctx context.Context, req RecallRequest) ([]types.Message, error) {
	if req.ThreadID == "" {
		return nil, storeerrors.NewInvalidArgumentError("MEMORY_RECALL_INVALID", "threadId is required", nil)
	}
	cfg := e.Config()

	ctx, span := observability.StartMemorySpan(ctx, "recall",
		attribute.String("memory.thread_id", req.ThreadID),
		attribute.Bool("memory.semantic", cfg.SemanticRecall.Enabled && req.Query != ""))
	defer span.End()

	sel := e.withDefaultLast(&types.MessageSelector{
		Last:    req.Last,
		Include: append([]types.IncludeSelector(nil), req.Include...),
	})

	if cfg.SemanticRecall.Enabled && strings.TrimSpace(req.Query) != "" {
		include, err := e.similarMessages(ctx, cfg, req)
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		sel.Include = append(sel.Include, include...)
	}

	msgs, err := e.store.GetMessages(ctx, types.GetMessagesArgs{
		ThreadID:   req.ThreadID,
		ResourceID: req.ResourceID,
		Selector:   sel,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return msgs, nil
}

// similarMessages queries the vector index once per chunk of the query and
// turns every distinct hit into an include window.
func (e *Engine) similarMessages(ctx context.Context, cfg Config, req RecallRequest) ([]types.IncludeSelector, error) {
	filter := map[string]any{metaThreadID: req.ThreadID}
	if cfg.SemanticRecall.Scope == ScopeResource {
		if !e.store.Capabilities().Supports(storage.CapSelectByIncludeResourceScope) {
			return nil, storeerrors.NewUnsupportedError(string(storage.CapSelectByIncludeResourceScope))
		}
		if req.ResourceID == "" {
			return nil, storeerrors.NewInvalidArgumentError("MEMORY_RECALL_INVALID",
				"resourceId is required for resource-scoped recall", nil)
		}
		filter = map[string]any{metaResourceID: req.ResourceID}
	}

	entry, err := e.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var include []types.IncludeSelector
	for _, vec := range entry.Vectors {
		matches, err := e.index.Query(ctx, cfg.IndexName, vec, cfg.SemanticRecall.TopK, filter)
		if errors.Is(err, vector.ErrIndexNotFound) {
			// Nothing has been indexed yet.
			return nil, nil
		}
		if err != nil {
			return nil, storeerrors.NewBackendError("MEMORY_VECTOR_QUERY_FAILED", err, map[string]any{
				"index":    cfg.IndexName,
				"threadId": req.ThreadID,
			})
		}
		for _, m := range matches {
			msgID, _ := m.Metadata[metaMessageID].(string)
			if msgID == "" {
				continue
			}
			if _, ok := seen[msgID]; ok {
				continue
			}
			seen[msgID] = struct{}{}

			inc := types.IncludeSelector{
				ID:                   msgID,
				WithPreviousMessages: cfg.SemanticRecall.BeforeRange,
				WithNextMessages:     cfg.SemanticRecall.AfterRange,
			}
			if threadID, _ := m.Metadata[metaThreadID].(string); threadID != "" && threadID != req.ThreadID {
				inc.ThreadID = threadID
			}
			include = append(include, inc)
		}
	}
	metrics.RecallHits.Add(float64(len(include)))
	return include, nil
}
