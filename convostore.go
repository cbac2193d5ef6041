// Package convostore is the persistence and memory layer of a conversational
// agent. It stores threads, messages, resources, workflow snapshots, traces,
// scores and legacy evals in MongoDB, keeps per-thread or per-resource
// working memory, and recalls earlier messages by semantic similarity.
//
// Basic usage:
//
//	store, err := convostore.New(
//	    convostore.WithMongo(os.Getenv("MONGODB_URI"), "agent"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close(ctx)
//
//	if err := store.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	_, err = store.SaveMessages(ctx, []convostore.Message{{
//	    ThreadID: "thread-1",
//	    Role:     "user",
//	    Content:  map[string]any{"content": "Hello!"},
//	}})
package convostore

import (
	"github.com/blueberrycongee/convostore/internal/memory"
	"github.com/blueberrycongee/convostore/internal/storage/scores"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// Version is the current version of convostore.
const Version = "0.3.0"

// Re-export the record and argument types so callers can use
// convostore.Thread instead of types.Thread.
type (
	Thread            = types.Thread
	Message           = types.Message
	MessageUpdate     = types.MessageUpdate
	Resource          = types.Resource
	WorkflowRun       = types.WorkflowRun
	Trace             = types.Trace
	Score             = types.Score
	EvalRow           = types.EvalRow
	PaginatedMessages = types.PaginatedMessages
	PaginatedThreads  = types.PaginatedThreads

	// ScorerQuery selects scores of one scorer.
	ScorerQuery = scores.ScorerQuery

	// Memory is the working memory and recall engine.
	Memory = memory.Engine
	// MemoryConfig configures Memory.
	MemoryConfig = memory.Config
	// RecallRequest is the argument of Memory.Recall.
	RecallRequest = memory.RecallRequest
	// WorkingMemoryUpdate is the argument of Memory.UpdateWorkingMemory.
	WorkingMemoryUpdate = memory.WorkingMemoryUpdate
	// WorkingMemoryRequest identifies a working memory.
	WorkingMemoryRequest = memory.WorkingMemoryRequest
)

// Working memory and recall scopes.
const (
	ScopeThread   = memory.ScopeThread
	ScopeResource = memory.ScopeResource
)
