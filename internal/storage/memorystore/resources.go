package memorystore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// GetResourceByID returns the resource or nil when it does not exist.
func (s *Store) GetResourceByID(ctx context.Context, resourceID string) (*types.Resource, error) {
	if err := s.requireResources(); err != nil {
		return nil, err
	}
	rec, err := s.ops.Load(ctx, storage.TableResources, bson.M{"id": resourceID})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_RESOURCE_FAILED", err, map[string]any{"resourceId": resourceID})
	}
	if rec == nil {
		return nil, nil
	}
	r := resourceFromRecord(rec)
	return &r, nil
}

// SaveResource creates or replaces a resource.
func (s *Store) SaveResource(ctx context.Context, resource types.Resource) (types.Resource, error) {
	if err := s.requireResources(); err != nil {
		return types.Resource{}, err
	}
	if resource.ID == "" {
		return types.Resource{}, storeerrors.NewInvalidArgumentError("STORAGE_SAVE_RESOURCE_INVALID",
			"resource id is required", nil)
	}
	now := s.clock()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}
	if resource.UpdatedAt.IsZero() {
		resource.UpdatedAt = now
	}
	err := s.ops.Observe(ctx, storage.TableResources, "save_resource", func(ctx context.Context) error {
		return s.upsert(ctx, storage.TableResources, bson.M{"id": resource.ID}, resourceRecord(resource))
	})
	if err != nil {
		return types.Resource{}, storeerrors.Wrap("STORAGE_SAVE_RESOURCE_FAILED", err,
			map[string]any{"resourceId": resource.ID})
	}
	return resource, nil
}

// UpdateResource creates the resource when absent. Otherwise the working
// memory is replaced when given and metadata is merged key by key.
func (s *Store) UpdateResource(ctx context.Context, in types.UpdateResourceInput) (types.Resource, error) {
	existing, err := s.GetResourceByID(ctx, in.ResourceID)
	if err != nil {
		return types.Resource{}, err
	}

	if existing == nil {
		r := types.Resource{ID: in.ResourceID, Metadata: in.Metadata}
		if in.WorkingMemory != nil {
			r.WorkingMemory = *in.WorkingMemory
		}
		return s.SaveResource(ctx, r)
	}

	updated := *existing
	if in.WorkingMemory != nil {
		updated.WorkingMemory = *in.WorkingMemory
	}
	updated.Metadata = mergeMetadata(existing.Metadata, in.Metadata)
	updated.UpdatedAt = s.clock()

	err = s.ops.Observe(ctx, storage.TableResources, "update_resource", func(ctx context.Context) error {
		set, err := s.ops.SerializeJSONFields(storage.TableResources, bson.M{
			"workingMemory": updated.WorkingMemory,
			"metadata":      updated.Metadata,
			"updatedAt":     updated.UpdatedAt,
		})
		if err != nil {
			return err
		}
		coll, err := s.ops.Collection(ctx, storage.TableResources)
		if err != nil {
			return err
		}
		_, err = coll.UpdateOne(ctx, bson.M{"id": in.ResourceID}, bson.M{"$set": set}, false)
		return err
	})
	if err != nil {
		return types.Resource{}, storeerrors.Wrap("STORAGE_UPDATE_RESOURCE_FAILED", err,
			map[string]any{"resourceId": in.ResourceID})
	}
	return updated, nil
}

func (s *Store) requireResources() error {
	if !s.caps.Supports(storage.CapResourceWorkingMemory) {
		return storeerrors.NewUnsupportedError(string(storage.CapResourceWorkingMemory))
	}
	return nil
}
