// Package docdb defines the document-collection protocol the storage layer is
// written against. The production implementation is MongoDB (DialMongo); the
// memdb subpackage provides an in-process implementation for tests and local
// development.
package docdb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNoDocuments is returned by FindOne when nothing matches.
	ErrNoDocuments = errors.New("docdb: no documents in result")

	// ErrNamespaceNotFound is returned when a collection does not exist.
	ErrNamespaceNotFound = errors.New("docdb: namespace not found")

	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("docdb: duplicate key")
)

// Database is a handle to one logical database.
type Database interface {
	// Collection returns a handle to the named collection. It never performs I/O.
	Collection(name string) Collection

	// ListCollectionNames returns the names of existing collections.
	ListCollectionNames(ctx context.Context) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Disconnect releases the underlying connection.
	Disconnect(ctx context.Context) error
}

// Collection is the set of operations the stores issue against a collection.
type Collection interface {
	Name() string

	Find(ctx context.Context, filter bson.M, opts *FindOptions) ([]bson.M, error)
	// FindOne returns ErrNoDocuments when nothing matches.
	FindOne(ctx context.Context, filter bson.M, opts *FindOptions) (bson.M, error)

	InsertOne(ctx context.Context, doc bson.M) error
	InsertMany(ctx context.Context, docs []bson.M) error

	UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update bson.M) (UpdateResult, error)

	DeleteOne(ctx context.Context, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)

	CountDocuments(ctx context.Context, filter bson.M) (int64, error)
	Aggregate(ctx context.Context, pipeline []bson.M) ([]bson.M, error)

	ListIndexes(ctx context.Context) ([]IndexSpec, error)
	CreateIndexes(ctx context.Context, indexes []IndexSpec) error

	// Drop removes the collection. Dropping a missing collection returns
	// ErrNamespaceNotFound.
	Drop(ctx context.Context) error
}

// FindOptions controls ordering and windowing of Find.
type FindOptions struct {
	Sort  bson.D
	Skip  int64
	Limit int64
}

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	Matched  int64
	Modified int64
	Upserted int64
}

// IndexSpec describes a collection index.
type IndexSpec struct {
	Name   string
	Keys   bson.D
	Unique bool
}
