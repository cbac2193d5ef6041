// Package memorystore persists threads, messages and resources.
package memorystore

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/storage"
)

const (
	// DefaultMessagesPerPage is the page size of GetMessagesPaginated when
	// neither PerPage nor Selector.Last is given.
	DefaultMessagesPerPage = 40

	// DefaultThreadsPerPage is the page size of thread listings.
	DefaultThreadsPerPage = 100
)

// Store implements thread, message and resource persistence.
type Store struct {
	ops    *storage.Operations
	caps   storage.Capabilities
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCapabilities overrides the advertised capability set.
func WithCapabilities(caps storage.Capabilities) Option {
	return func(s *Store) { s.caps = caps }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a memory store over ops.
func New(ops *storage.Operations, opts ...Option) *Store {
	s := &Store{
		ops:    ops,
		caps:   storage.DocumentCapabilities(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "memory_store")
	return s
}

// Capabilities reports the features this store supports.
func (s *Store) Capabilities() storage.Capabilities {
	return s.caps
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Store) find(ctx context.Context, table storage.TableName, filter bson.M, opts *docdb.FindOptions) ([]bson.M, error) {
	coll, err := s.ops.Collection(ctx, table)
	if err != nil {
		return nil, err
	}
	docs, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i] = s.ops.ProcessRecord(table, docs[i])
	}
	return docs, nil
}

func (s *Store) count(ctx context.Context, table storage.TableName, filter bson.M) (int, error) {
	coll, err := s.ops.Collection(ctx, table)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, filter)
	return int(n), err
}

// upsert replaces the non-key fields of the record matching filter, creating
// it when absent. createdAt is only written on insert.
func (s *Store) upsert(ctx context.Context, table storage.TableName, filter, record bson.M) error {
	doc, err := s.ops.SerializeJSONFields(table, record)
	if err != nil {
		return err
	}
	set := bson.M{}
	onInsert := bson.M{}
	for k, v := range doc {
		if k == "createdAt" {
			onInsert[k] = v
			continue
		}
		set[k] = v
	}
	update := bson.M{"$set": set}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = onInsert
	}

	coll, err := s.ops.Collection(ctx, table)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx, filter, update, true)
	return err
}

// touchThreads bumps updatedAt on every listed thread.
func (s *Store) touchThreads(ctx context.Context, threadIDs []string) error {
	ids := uniqueStrings(threadIDs)
	if len(ids) == 0 {
		return nil
	}
	coll, err := s.ops.Collection(ctx, storage.TableThreads)
	if err != nil {
		return err
	}
	_, err = coll.UpdateMany(ctx, bson.M{"id": bson.M{"$in": toAnySlice(ids)}},
		bson.M{"$set": bson.M{"updatedAt": s.clock()}})
	return err
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func toAnySlice(in []string) bson.A {
	out := make(bson.A, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
