package memorystore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

var byCreatedAt = bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

// SaveMessages upserts messages by id and bumps updatedAt on every thread
// they belong to. Missing ids, types and timestamps are filled in; messages
// without a timestamp keep their slice order.
func (s *Store) SaveMessages(ctx context.Context, messages []types.Message) ([]types.Message, error) {
	if len(messages) == 0 {
		return []types.Message{}, nil
	}

	now := s.clock()
	saved := make([]types.Message, len(messages))
	threadIDs := make([]string, 0, len(messages))
	for i, m := range messages {
		if m.ThreadID == "" {
			return nil, storeerrors.NewInvalidArgumentError("STORAGE_SAVE_MESSAGES_INVALID",
				"thread id is required for every message", map[string]any{"index": i})
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Type == "" {
			m.Type = types.MessageFormatV2
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		saved[i] = m
		threadIDs = append(threadIDs, m.ThreadID)
	}

	err := s.ops.Observe(ctx, storage.TableMessages, "save_messages", func(ctx context.Context) error {
		for _, m := range saved {
			// Re-saving an id overwrites it, so createdAt follows the latest save.
			doc, err := s.ops.SerializeJSONFields(storage.TableMessages, messageRecord(m))
			if err != nil {
				return err
			}
			coll, err := s.ops.Collection(ctx, storage.TableMessages)
			if err != nil {
				return err
			}
			if _, err := coll.UpdateOne(ctx, bson.M{"id": m.ID}, bson.M{"$set": doc}, true); err != nil {
				return err
			}
		}
		return s.touchThreads(ctx, threadIDs)
	})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_SAVE_MESSAGES_FAILED", err,
			map[string]any{"threadId": saved[0].ThreadID, "count": len(saved)})
	}
	return saved, nil
}

// GetMessages returns the most recent messages of a thread plus any
// requested include windows, deduplicated and in ascending createdAt order.
//
// Selector.Last nil applies no limit, zero disables the recent window and a
// positive value keeps that many of the newest messages.
func (s *Store) GetMessages(ctx context.Context, args types.GetMessagesArgs) ([]types.Message, error) {
	if args.ThreadID == "" {
		return nil, storeerrors.NewInvalidArgumentError("STORAGE_GET_MESSAGES_INVALID", "thread id is required", nil)
	}
	sel := args.Selector
	if sel == nil {
		sel = &types.MessageSelector{}
	}

	var out []types.Message
	err := s.ops.Observe(ctx, storage.TableMessages, "get_messages", func(ctx context.Context) error {
		included, err := s.includeWindows(ctx, args.ThreadID, sel.Include)
		if err != nil {
			return err
		}

		var recent []types.Message
		if sel.Last == nil || *sel.Last > 0 {
			opts := &docdb.FindOptions{Sort: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}
			if sel.Last != nil {
				opts.Limit = int64(*sel.Last)
			}
			recent, err = s.findMessages(ctx, bson.M{"threadId": args.ThreadID}, opts)
			if err != nil {
				return err
			}
		}

		out = mergeMessages(included, recent)
		return nil
	})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_MESSAGES_FAILED", err, map[string]any{"threadId": args.ThreadID})
	}
	return out, nil
}

// GetMessagesPaginated returns one page of a thread's messages, newest page
// first, with the page's messages in ascending order. Include windows are
// added to every page and do not count towards the page size.
func (s *Store) GetMessagesPaginated(ctx context.Context, args types.GetMessagesPaginatedArgs) (types.PaginatedMessages, error) {
	if args.ThreadID == "" {
		return types.PaginatedMessages{}, storeerrors.NewInvalidArgumentError("STORAGE_GET_MESSAGES_INVALID",
			"thread id is required", nil)
	}
	sel := args.Selector
	if sel == nil {
		sel = &types.MessageSelector{}
	}

	perPage := DefaultMessagesPerPage
	switch {
	case args.PerPage != nil:
		perPage = *args.PerPage
	case sel.Last != nil:
		perPage = *sel.Last
	}
	if perPage < 0 {
		perPage = 0
	}
	page := args.Page
	if page < 0 {
		page = 0
	}
	offset := int64(page) * int64(perPage)

	out := types.PaginatedMessages{Messages: []types.Message{}}
	err := s.ops.Observe(ctx, storage.TableMessages, "get_messages_paginated", func(ctx context.Context) error {
		included, err := s.includeWindows(ctx, args.ThreadID, sel.Include)
		if err != nil {
			return err
		}

		filter := storage.DateRangeFilter(bson.M{"threadId": args.ThreadID}, "createdAt", args.DateRange)
		total, err := s.count(ctx, storage.TableMessages, filter)
		if err != nil {
			return err
		}

		var pageMessages []types.Message
		if perPage > 0 {
			pageMessages, err = s.findMessages(ctx, filter, &docdb.FindOptions{
				Sort:  bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
				Skip:  offset,
				Limit: int64(perPage),
			})
			if err != nil {
				return err
			}
		}

		out.Messages = mergeMessages(included, pageMessages)
		out.PaginationInfo = types.NewPaginationInfo(total, page, perPage, len(pageMessages))
		return nil
	})
	if err != nil {
		return types.PaginatedMessages{}, storeerrors.Wrap("STORAGE_GET_MESSAGES_PAGINATED_FAILED", err,
			map[string]any{"threadId": args.ThreadID, "page": page})
	}
	return out, nil
}

// GetMessagesByID returns the listed messages in ascending createdAt order.
// Unknown ids are ignored.
func (s *Store) GetMessagesByID(ctx context.Context, ids []string) ([]types.Message, error) {
	if len(ids) == 0 {
		return []types.Message{}, nil
	}
	var out []types.Message
	err := s.ops.Observe(ctx, storage.TableMessages, "get_messages_by_id", func(ctx context.Context) error {
		var err error
		out, err = s.findMessages(ctx, bson.M{"id": bson.M{"$in": toAnySlice(ids)}},
			&docdb.FindOptions{Sort: byCreatedAt})
		return err
	})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_MESSAGES_BY_ID_FAILED", err, map[string]any{"count": len(ids)})
	}
	return out, nil
}

// UpdateMessages applies partial updates. Content is merged into the stored
// content with one level of metadata merging; fields equal to the stored
// value are skipped. Threads the messages were in and were moved to get
// their updatedAt bumped. Unknown ids are ignored.
func (s *Store) UpdateMessages(ctx context.Context, updates []types.MessageUpdate) ([]types.Message, error) {
	if len(updates) == 0 {
		return []types.Message{}, nil
	}
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.ID)
	}

	var out []types.Message
	err := s.ops.Observe(ctx, storage.TableMessages, "update_messages", func(ctx context.Context) error {
		existing, err := s.findMessages(ctx, bson.M{"id": bson.M{"$in": toAnySlice(ids)}}, nil)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			out = []types.Message{}
			return nil
		}
		byID := make(map[string]types.Message, len(existing))
		for _, m := range existing {
			byID[m.ID] = m
		}

		coll, err := s.ops.Collection(ctx, storage.TableMessages)
		if err != nil {
			return err
		}
		var touched []string
		for _, u := range updates {
			current, ok := byID[u.ID]
			if !ok {
				continue
			}
			set := messageChanges(current, u)
			if len(set) == 0 {
				continue
			}
			touched = append(touched, current.ThreadID)
			if u.ThreadID != nil {
				touched = append(touched, *u.ThreadID)
			}
			doc, err := s.ops.SerializeJSONFields(storage.TableMessages, set)
			if err != nil {
				return err
			}
			if _, err := coll.UpdateOne(ctx, bson.M{"id": u.ID}, bson.M{"$set": doc}, false); err != nil {
				return err
			}
		}
		if err := s.touchThreads(ctx, touched); err != nil {
			return err
		}

		out, err = s.findMessages(ctx, bson.M{"id": bson.M{"$in": toAnySlice(ids)}},
			&docdb.FindOptions{Sort: byCreatedAt})
		return err
	})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_UPDATE_MESSAGES_FAILED", err, map[string]any{"count": len(updates)})
	}
	return out, nil
}

// DeleteMessages removes the listed messages and bumps updatedAt on their
// threads.
func (s *Store) DeleteMessages(ctx context.Context, ids []string) error {
	if !s.caps.Supports(storage.CapDeleteMessages) {
		return storeerrors.NewUnsupportedError(string(storage.CapDeleteMessages))
	}
	if len(ids) == 0 {
		return nil
	}
	err := s.ops.Observe(ctx, storage.TableMessages, "delete_messages", func(ctx context.Context) error {
		filter := bson.M{"id": bson.M{"$in": toAnySlice(ids)}}
		existing, err := s.findMessages(ctx, filter, nil)
		if err != nil {
			return err
		}
		coll, err := s.ops.Collection(ctx, storage.TableMessages)
		if err != nil {
			return err
		}
		if _, err := coll.DeleteMany(ctx, filter); err != nil {
			return err
		}
		threadIDs := make([]string, 0, len(existing))
		for _, m := range existing {
			threadIDs = append(threadIDs, m.ThreadID)
		}
		return s.touchThreads(ctx, threadIDs)
	})
	return storeerrors.Wrap("STORAGE_DELETE_MESSAGES_FAILED", err, map[string]any{"count": len(ids)})
}

func (s *Store) findMessages(ctx context.Context, filter bson.M, opts *docdb.FindOptions) ([]types.Message, error) {
	docs, err := s.find(ctx, storage.TableMessages, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, messageFromRecord(d))
	}
	return out, nil
}

// includeWindows resolves each include selector to the target message and
// its neighbours within the target's thread.
func (s *Store) includeWindows(ctx context.Context, threadID string, include []types.IncludeSelector) ([]types.Message, error) {
	if len(include) == 0 {
		return nil, nil
	}
	threads := make(map[string][]types.Message)
	var out []types.Message
	for _, inc := range include {
		target := inc.ThreadID
		if target == "" {
			target = threadID
		}
		if target != threadID && !s.caps.Supports(storage.CapSelectByIncludeResourceScope) {
			return nil, storeerrors.NewUnsupportedError(string(storage.CapSelectByIncludeResourceScope))
		}

		ordered, ok := threads[target]
		if !ok {
			var err error
			ordered, err = s.findMessages(ctx, bson.M{"threadId": target}, &docdb.FindOptions{Sort: byCreatedAt})
			if err != nil {
				return nil, err
			}
			threads[target] = ordered
		}

		idx := -1
		for i, m := range ordered {
			if m.ID == inc.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		lo := idx - max(inc.WithPreviousMessages, 0)
		if lo < 0 {
			lo = 0
		}
		hi := idx + max(inc.WithNextMessages, 0) + 1
		if hi > len(ordered) {
			hi = len(ordered)
		}
		out = append(out, ordered[lo:hi]...)
	}
	return out, nil
}

// mergeMessages concatenates the groups, drops repeated ids and sorts the
// result by createdAt ascending.
func mergeMessages(groups ...[]types.Message) []types.Message {
	seen := make(map[string]struct{})
	out := []types.Message{}
	for _, g := range groups {
		for _, m := range g {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// messageChanges returns the $set document for u, omitting unchanged fields.
func messageChanges(current types.Message, u types.MessageUpdate) bson.M {
	set := bson.M{}
	setString := func(field string, cur string, v *string) {
		if v != nil && *v != cur {
			set[field] = *v
		}
	}
	setString("threadId", current.ThreadID, u.ThreadID)
	setString("resourceId", current.ResourceID, u.ResourceID)
	setString("role", current.Role, u.Role)
	setString("type", current.Type, u.Type)
	if u.CreatedAt != nil && !u.CreatedAt.Equal(current.CreatedAt) {
		set["createdAt"] = u.CreatedAt.UTC()
	}
	if u.Content != nil {
		merged := mergeContent(current.Content, u.Content)
		if !sameValue(merged, current.Content) {
			set["content"] = merged
		}
	}
	return set
}
