package memory

import (
	"context"

	"github.com/blueberrycongee/convostore/internal/storage"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// MessageStore persists threads, messages and resources.
// *memorystore.Store implements it.
type MessageStore interface {
	Capabilities() storage.Capabilities

	SaveThread(ctx context.Context, thread types.Thread) (types.Thread, error)
	GetThreadByID(ctx context.Context, threadID string) (*types.Thread, error)
	GetThreadsByResourceID(ctx context.Context, resourceID string, order types.ThreadSort) ([]types.Thread, error)
	GetThreadsByResourceIDPaginated(ctx context.Context, args types.GetThreadsArgs) (types.PaginatedThreads, error)
	UpdateThread(ctx context.Context, in types.UpdateThreadInput) (types.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error

	SaveMessages(ctx context.Context, messages []types.Message) ([]types.Message, error)
	GetMessages(ctx context.Context, args types.GetMessagesArgs) ([]types.Message, error)
	GetMessagesPaginated(ctx context.Context, args types.GetMessagesPaginatedArgs) (types.PaginatedMessages, error)
	GetMessagesByID(ctx context.Context, ids []string) ([]types.Message, error)
	UpdateMessages(ctx context.Context, updates []types.MessageUpdate) ([]types.Message, error)
	DeleteMessages(ctx context.Context, ids []string) error

	GetResourceByID(ctx context.Context, resourceID string) (*types.Resource, error)
	SaveResource(ctx context.Context, resource types.Resource) (types.Resource, error)
	UpdateResource(ctx context.Context, in types.UpdateResourceInput) (types.Resource, error)
}
