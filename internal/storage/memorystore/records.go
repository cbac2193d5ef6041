package memorystore

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/storage"
	"github.com/blueberrycongee/convostore/pkg/types"
)

func threadRecord(t types.Thread) bson.M {
	return bson.M{
		"id":         t.ID,
		"resourceId": t.ResourceID,
		"title":      t.Title,
		"metadata":   t.Metadata,
		"createdAt":  t.CreatedAt,
		"updatedAt":  t.UpdatedAt,
	}
}

func threadFromRecord(rec bson.M) types.Thread {
	return types.Thread{
		ID:         storage.String(rec, "id"),
		ResourceID: storage.String(rec, "resourceId"),
		Title:      storage.String(rec, "title"),
		Metadata:   storage.Map(rec, "metadata"),
		CreatedAt:  storage.Time(rec, "createdAt"),
		UpdatedAt:  storage.Time(rec, "updatedAt"),
	}
}

func messageRecord(m types.Message) bson.M {
	return bson.M{
		"id":         m.ID,
		"threadId":   m.ThreadID,
		"resourceId": m.ResourceID,
		"role":       m.Role,
		"type":       m.Type,
		"content":    m.Content,
		"createdAt":  m.CreatedAt,
	}
}

func messageFromRecord(rec bson.M) types.Message {
	content := storage.Map(rec, "content")
	if content == nil {
		// Content that was stored as plain text rather than a document.
		if s, ok := rec["content"].(string); ok {
			content = map[string]any{"content": s}
		}
	}
	return types.Message{
		ID:         storage.String(rec, "id"),
		ThreadID:   storage.String(rec, "threadId"),
		ResourceID: storage.String(rec, "resourceId"),
		Role:       storage.String(rec, "role"),
		Type:       storage.String(rec, "type"),
		Content:    content,
		CreatedAt:  storage.Time(rec, "createdAt"),
	}
}

func resourceRecord(r types.Resource) bson.M {
	return bson.M{
		"id":            r.ID,
		"workingMemory": r.WorkingMemory,
		"metadata":      r.Metadata,
		"createdAt":     r.CreatedAt,
		"updatedAt":     r.UpdatedAt,
	}
}

func resourceFromRecord(rec bson.M) types.Resource {
	return types.Resource{
		ID:            storage.String(rec, "id"),
		WorkingMemory: storage.String(rec, "workingMemory"),
		Metadata:      storage.Map(rec, "metadata"),
		CreatedAt:     storage.Time(rec, "createdAt"),
		UpdatedAt:     storage.Time(rec, "updatedAt"),
	}
}
