// Package memdb is a thread-safe in-process implementation of docdb.Database.
// It evaluates the subset of the MongoDB query, update and aggregation
// language used by convostore and isolates stored documents from callers by
// deep copying on every read and write.
package memdb

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/blueberrycongee/convostore/internal/docdb"
)

// Database is an in-memory docdb.Database.
type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// New creates an empty database.
func New() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection returns a handle to the named collection, creating it lazily on
// first write.
func (d *Database) Collection(name string) docdb.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.collections[name]
	if !ok {
		c = &Collection{name: name, db: d}
		d.collections[name] = c
	}
	return c
}

// ListCollectionNames returns collections that currently exist.
func (d *Database) ListCollectionNames(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.collections))
	for name, c := range d.collections {
		if c.exists() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ping always succeeds until Disconnect is called.
func (d *Database) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("memdb: database disconnected")
	}
	return nil
}

// Disconnect marks the database closed.
func (d *Database) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Collection is an in-memory docdb.Collection.
type Collection struct {
	name string
	db   *Database

	mu      sync.RWMutex
	docs    []bson.M
	indexes []docdb.IndexSpec
	created bool
}

func (c *Collection) exists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.created
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Find returns copies of matching documents.
func (c *Collection) Find(ctx context.Context, filter bson.M, opts *docdb.FindOptions) ([]bson.M, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched, err := c.matchLocked(filter)
	if err != nil {
		return nil, err
	}

	if opts != nil {
		if len(opts.Sort) > 0 {
			sortDocs(matched, opts.Sort)
		}
		matched = window(matched, opts.Skip, opts.Limit)
	}

	out := make([]bson.M, len(matched))
	for i, doc := range matched {
		out[i] = copyDoc(doc)
	}
	return out, nil
}

// FindOne returns the first matching document.
func (c *Collection) FindOne(ctx context.Context, filter bson.M, opts *docdb.FindOptions) (bson.M, error) {
	one := &docdb.FindOptions{Limit: 1}
	if opts != nil {
		one.Sort = opts.Sort
		one.Skip = opts.Skip
	}
	docs, err := c.Find(ctx, filter, one)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, docdb.ErrNoDocuments
	}
	return docs[0], nil
}

// InsertOne stores a copy of doc.
func (c *Collection) InsertOne(ctx context.Context, doc bson.M) error {
	return c.InsertMany(ctx, []bson.M{doc})
}

// InsertMany stores copies of docs. Nothing is written if any document
// violates a unique index.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.M) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prepared := make([]bson.M, 0, len(docs))
	for _, doc := range docs {
		stored := copyDoc(doc)
		if _, ok := stored["_id"]; !ok {
			stored["_id"] = primitive.NewObjectID()
		}
		if err := c.checkUniqueLocked(stored, nil, prepared); err != nil {
			return err
		}
		prepared = append(prepared, stored)
	}

	c.docs = append(c.docs, prepared...)
	c.created = true
	return nil
}

// UpdateOne applies update to the first match, inserting when upsert is set
// and nothing matches.
func (c *Collection) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) (docdb.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, doc := range c.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return docdb.UpdateResult{}, err
		}
		if !ok {
			continue
		}
		updated, err := applyUpdate(copyDoc(doc), update, false)
		if err != nil {
			return docdb.UpdateResult{}, err
		}
		if err := c.checkUniqueLocked(updated, doc, nil); err != nil {
			return docdb.UpdateResult{}, err
		}
		c.docs[i] = updated
		return docdb.UpdateResult{Matched: 1, Modified: 1}, nil
	}

	if !upsert {
		return docdb.UpdateResult{}, nil
	}

	seed := bson.M{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if _, isOps := operatorDoc(v); isOps {
			continue
		}
		seed[k] = copyValue(v)
	}
	inserted, err := applyUpdate(seed, update, true)
	if err != nil {
		return docdb.UpdateResult{}, err
	}
	if _, ok := inserted["_id"]; !ok {
		inserted["_id"] = primitive.NewObjectID()
	}
	if err := c.checkUniqueLocked(inserted, nil, nil); err != nil {
		return docdb.UpdateResult{}, err
	}
	c.docs = append(c.docs, inserted)
	c.created = true
	return docdb.UpdateResult{Upserted: 1}, nil
}

// UpdateMany applies update to every match.
func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M) (docdb.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res docdb.UpdateResult
	for i, doc := range c.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		updated, err := applyUpdate(copyDoc(doc), update, false)
		if err != nil {
			return res, err
		}
		c.docs[i] = updated
		res.Matched++
		res.Modified++
	}
	return res, nil
}

// DeleteOne removes the first match.
func (c *Collection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, doc := range c.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// DeleteMany removes every match.
func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return deleted, nil
}

// CountDocuments counts matching documents.
func (c *Collection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched, err := c.matchLocked(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Aggregate supports the $match, $sort, $skip, $limit, $sample and $count stages.
func (c *Collection) Aggregate(ctx context.Context, pipeline []bson.M) ([]bson.M, error) {
	c.mu.RLock()
	docs := make([]bson.M, len(c.docs))
	for i, doc := range c.docs {
		docs[i] = copyDoc(doc)
	}
	c.mu.RUnlock()

	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("memdb: pipeline stage must have exactly one operator")
		}
		for op, arg := range stage {
			var err error
			docs, err = runStage(docs, op, arg)
			if err != nil {
				return nil, err
			}
		}
	}
	return docs, nil
}

func runStage(docs []bson.M, op string, arg any) ([]bson.M, error) {
	switch op {
	case "$match":
		filter, ok := arg.(bson.M)
		if !ok {
			return nil, fmt.Errorf("memdb: $match expects a document")
		}
		out := docs[:0]
		for _, doc := range docs {
			matched, err := matches(doc, filter)
			if err != nil {
				return nil, err
			}
			if matched {
				out = append(out, doc)
			}
		}
		return out, nil
	case "$sort":
		keys, ok := arg.(bson.D)
		if !ok {
			return nil, fmt.Errorf("memdb: $sort expects an ordered document")
		}
		sortDocs(docs, keys)
		return docs, nil
	case "$skip":
		n, _ := toFloat(arg)
		return window(docs, int64(n), 0), nil
	case "$limit":
		n, _ := toFloat(arg)
		return window(docs, 0, int64(n)), nil
	case "$sample":
		spec, _ := arg.(bson.M)
		size, _ := toFloat(spec["size"])
		rand.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
		return window(docs, 0, int64(size)), nil
	case "$count":
		field, _ := arg.(string)
		return []bson.M{{field: int64(len(docs))}}, nil
	}
	return nil, fmt.Errorf("memdb: unsupported pipeline stage %s", op)
}

// ListIndexes returns the declared indexes, including the implicit _id index.
func (c *Collection) ListIndexes(ctx context.Context) ([]docdb.IndexSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.created {
		return nil, docdb.ErrNamespaceNotFound
	}
	specs := []docdb.IndexSpec{{Name: "_id_", Keys: bson.D{{Key: "_id", Value: 1}}, Unique: true}}
	return append(specs, c.indexes...), nil
}

// CreateIndexes declares indexes. Unique indexes are enforced on later writes.
func (c *Collection) CreateIndexes(ctx context.Context, indexes []docdb.IndexSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, idx := range indexes {
		if idx.Name == "" {
			idx.Name = indexName(idx.Keys)
		}
		replaced := false
		for i, existing := range c.indexes {
			if existing.Name == idx.Name {
				c.indexes[i] = idx
				replaced = true
			}
		}
		if !replaced {
			c.indexes = append(c.indexes, idx)
		}
	}
	c.created = true
	return nil
}

// Drop removes all documents and indexes.
func (c *Collection) Drop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.created {
		return docdb.ErrNamespaceNotFound
	}
	c.docs = nil
	c.indexes = nil
	c.created = false
	return nil
}

func (c *Collection) matchLocked(filter bson.M) ([]bson.M, error) {
	out := make([]bson.M, 0)
	for _, doc := range c.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// checkUniqueLocked verifies doc against unique indexes. self is the stored
// version of doc being replaced, pending are documents of the same batch.
func (c *Collection) checkUniqueLocked(doc, self bson.M, pending []bson.M) error {
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		candidates := append(append([]bson.M{}, c.docs...), pending...)
		for _, other := range candidates {
			if self != nil && sameDoc(other, self) {
				continue
			}
			if sameKey(doc, other, idx.Keys) {
				return fmt.Errorf("%w: collection %s index %s", docdb.ErrDuplicateKey, c.name, idx.Name)
			}
		}
	}
	return nil
}

func sameDoc(a, b bson.M) bool {
	ida, oka := a["_id"]
	idb, okb := b["_id"]
	return oka && okb && ida == idb
}

func sameKey(a, b bson.M, keys bson.D) bool {
	for _, k := range keys {
		va, pa := lookup(a, k.Key)
		vb, pb := lookup(b, k.Key)
		if pa != pb {
			return false
		}
		if c, ok := compare(va, vb); !ok || c != 0 {
			return false
		}
	}
	return true
}

func indexName(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s_%v", k.Key, k.Value))
	}
	return strings.Join(parts, "_")
}

func sortDocs(docs []bson.M, keys bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			dir, _ := toFloat(k.Value)
			vi, _ := lookup(docs[i], k.Key)
			vj, _ := lookup(docs[j], k.Key)
			c, ok := compare(vi, vj)
			if !ok || c == 0 {
				continue
			}
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func window(docs []bson.M, skip, limit int64) []bson.M {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return docs[:0]
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}
