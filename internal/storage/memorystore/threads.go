package memorystore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// SaveThread creates or replaces a thread. Zero timestamps are filled in;
// createdAt of an existing thread is preserved.
func (s *Store) SaveThread(ctx context.Context, thread types.Thread) (types.Thread, error) {
	if thread.ID == "" {
		return types.Thread{}, storeerrors.NewInvalidArgumentError("STORAGE_SAVE_THREAD_INVALID",
			"thread id is required", nil)
	}
	now := s.clock()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = now
	}

	err := s.ops.Observe(ctx, storage.TableThreads, "save_thread", func(ctx context.Context) error {
		return s.upsert(ctx, storage.TableThreads, bson.M{"id": thread.ID}, threadRecord(thread))
	})
	if err != nil {
		return types.Thread{}, storeerrors.Wrap("STORAGE_SAVE_THREAD_FAILED", err,
			map[string]any{"threadId": thread.ID})
	}
	return thread, nil
}

// GetThreadByID returns the thread or nil when it does not exist.
func (s *Store) GetThreadByID(ctx context.Context, threadID string) (*types.Thread, error) {
	rec, err := s.ops.Load(ctx, storage.TableThreads, bson.M{"id": threadID})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_THREAD_FAILED", err, map[string]any{"threadId": threadID})
	}
	if rec == nil {
		return nil, nil
	}
	t := threadFromRecord(rec)
	return &t, nil
}

// GetThreadsByResourceID lists every thread of a resource in the requested order.
func (s *Store) GetThreadsByResourceID(ctx context.Context, resourceID string, order types.ThreadSort) ([]types.Thread, error) {
	var threads []types.Thread
	err := s.ops.Observe(ctx, storage.TableThreads, "get_threads_by_resource", func(ctx context.Context) error {
		docs, err := s.find(ctx, storage.TableThreads, bson.M{"resourceId": resourceID},
			&docdb.FindOptions{Sort: threadSort(order)})
		if err != nil {
			return err
		}
		threads = make([]types.Thread, 0, len(docs))
		for _, d := range docs {
			threads = append(threads, threadFromRecord(d))
		}
		return nil
	})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_THREADS_BY_RESOURCE_FAILED", err,
			map[string]any{"resourceId": resourceID})
	}
	return threads, nil
}

// GetThreadsByResourceIDPaginated returns one page of a resource's threads.
func (s *Store) GetThreadsByResourceIDPaginated(ctx context.Context, args types.GetThreadsArgs) (types.PaginatedThreads, error) {
	page, perPage, offset := storage.Page(args.Page, args.PerPage, DefaultThreadsPerPage)
	out := types.PaginatedThreads{Threads: []types.Thread{}}

	err := s.ops.Observe(ctx, storage.TableThreads, "get_threads_paginated", func(ctx context.Context) error {
		filter := bson.M{"resourceId": args.ResourceID}
		total, err := s.count(ctx, storage.TableThreads, filter)
		if err != nil {
			return err
		}
		docs, err := s.find(ctx, storage.TableThreads, filter, &docdb.FindOptions{
			Sort:  threadSort(args.Sort),
			Skip:  offset,
			Limit: int64(perPage),
		})
		if err != nil {
			return err
		}
		for _, d := range docs {
			out.Threads = append(out.Threads, threadFromRecord(d))
		}
		out.PaginationInfo = types.NewPaginationInfo(total, page, perPage, len(out.Threads))
		return nil
	})
	if err != nil {
		return types.PaginatedThreads{}, storeerrors.Wrap("STORAGE_GET_THREADS_BY_RESOURCE_FAILED", err,
			map[string]any{"resourceId": args.ResourceID, "page": page})
	}
	return out, nil
}

// maxThreadUpdateAttempts bounds the compare-and-swap retries of UpdateThread.
const maxThreadUpdateAttempts = 5

var errThreadUpdateConflict = errors.New("thread changed concurrently on every attempt")

// UpdateThread sets the title and merges metadata into an existing thread.
// The write is guarded by the metadata and updatedAt values that were read;
// when another writer got there first the merge is redone against the fresh
// document, so concurrent callers never drop each other's metadata keys.
func (s *Store) UpdateThread(ctx context.Context, in types.UpdateThreadInput) (types.Thread, error) {
	for attempt := 0; attempt < maxThreadUpdateAttempts; attempt++ {
		updated, applied, err := s.tryUpdateThread(ctx, in)
		if err != nil {
			return types.Thread{}, err
		}
		if applied {
			return updated, nil
		}
	}
	return types.Thread{}, storeerrors.NewBackendError("STORAGE_UPDATE_THREAD_CONFLICT", errThreadUpdateConflict,
		map[string]any{"threadId": in.ID, "attempts": maxThreadUpdateAttempts})
}

func (s *Store) tryUpdateThread(ctx context.Context, in types.UpdateThreadInput) (types.Thread, bool, error) {
	var (
		updated types.Thread
		found   bool
		applied bool
	)
	err := s.ops.Observe(ctx, storage.TableThreads, "update_thread", func(ctx context.Context) error {
		coll, err := s.ops.Collection(ctx, storage.TableThreads)
		if err != nil {
			return err
		}
		raw, err := coll.FindOne(ctx, bson.M{"id": in.ID}, nil)
		if errors.Is(err, docdb.ErrNoDocuments) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		// Match on the stored representation, before JSON fields are parsed.
		guard := bson.M{"id": in.ID, "metadata": raw["metadata"], "updatedAt": raw["updatedAt"]}
		existing := threadFromRecord(s.ops.ProcessRecord(storage.TableThreads, raw))

		updated = existing
		if in.Title != "" {
			updated.Title = in.Title
		}
		updated.Metadata = mergeMetadata(existing.Metadata, in.Metadata)
		updated.UpdatedAt = s.clock()

		set, err := s.ops.SerializeJSONFields(storage.TableThreads, bson.M{
			"title":     updated.Title,
			"metadata":  updated.Metadata,
			"updatedAt": updated.UpdatedAt,
		})
		if err != nil {
			return err
		}
		res, err := coll.UpdateOne(ctx, guard, bson.M{"$set": set}, false)
		if err != nil {
			return err
		}
		applied = res.Matched > 0
		return nil
	})
	if err != nil {
		return types.Thread{}, false, storeerrors.Wrap("STORAGE_UPDATE_THREAD_FAILED", err, map[string]any{"threadId": in.ID})
	}
	if !found {
		return types.Thread{}, false, storeerrors.NewNotFoundError("STORAGE_UPDATE_THREAD_NOT_FOUND",
			"thread not found", map[string]any{"threadId": in.ID})
	}
	return updated, applied, nil
}

// DeleteThread removes a thread and all of its messages. Deleting an absent
// thread is not an error.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	err := s.ops.Observe(ctx, storage.TableThreads, "delete_thread", func(ctx context.Context) error {
		messages, err := s.ops.Collection(ctx, storage.TableMessages)
		if err != nil {
			return err
		}
		if _, err := messages.DeleteMany(ctx, bson.M{"threadId": threadID}); err != nil {
			return err
		}
		threads, err := s.ops.Collection(ctx, storage.TableThreads)
		if err != nil {
			return err
		}
		_, err = threads.DeleteOne(ctx, bson.M{"id": threadID})
		return err
	})
	return storeerrors.Wrap("STORAGE_DELETE_THREAD_FAILED", err, map[string]any{"threadId": threadID})
}

func threadSort(order types.ThreadSort) bson.D {
	field := string(order.OrderBy)
	if order.OrderBy != types.ThreadOrderByUpdatedAt {
		field = string(types.ThreadOrderByCreatedAt)
	}
	dir := -1
	if order.Direction == types.SortAsc {
		dir = 1
	}
	return bson.D{{Key: field, Value: dir}, {Key: "id", Value: dir}}
}
