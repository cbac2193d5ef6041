// Package types defines the records persisted by convostore: threads,
// messages, resources, workflow snapshots, traces, scores and legacy evals,
// together with the argument and result shapes of the store operations.
package types //nolint:revive // package name is intentional

import "time"

// MessageFormatV2 is the type tag written on messages when none is given.
const MessageFormatV2 = "v2"

// Thread is a conversation owned by a resource.
type Thread struct {
	ID         string         `json:"id"`
	ResourceID string         `json:"resourceId"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// WorkingMemory returns the thread-scoped working memory stored in metadata.
func (t *Thread) WorkingMemory() (string, bool) {
	if t == nil || t.Metadata == nil {
		return "", false
	}
	wm, ok := t.Metadata["workingMemory"].(string)
	return wm, ok
}

// Message is a single entry of a thread. Content is a structured document,
// typically {"format": 2, "parts": [...], "content": "...", "metadata": {...}}.
type Message struct {
	ID         string         `json:"id"`
	ThreadID   string         `json:"threadId"`
	ResourceID string         `json:"resourceId,omitempty"`
	Role       string         `json:"role"`
	Type       string         `json:"type,omitempty"`
	Content    map[string]any `json:"content"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Text returns the plain-text rendering of the message content.
func (m *Message) Text() string {
	if m == nil || m.Content == nil {
		return ""
	}
	if s, ok := m.Content["content"].(string); ok && s != "" {
		return s
	}
	var text string
	if parts, ok := m.Content["parts"].([]any); ok {
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok || part["type"] != "text" {
				continue
			}
			if s, ok := part["text"].(string); ok {
				if text != "" {
					text += "\n"
				}
				text += s
			}
		}
	}
	return text
}

// MessageUpdate is a partial update for one message. Nil fields are left
// unchanged; Content is deep-merged into the stored content.
type MessageUpdate struct {
	ID         string         `json:"id"`
	ThreadID   *string        `json:"threadId,omitempty"`
	ResourceID *string        `json:"resourceId,omitempty"`
	Role       *string        `json:"role,omitempty"`
	Type       *string        `json:"type,omitempty"`
	Content    map[string]any `json:"content,omitempty"`
	CreatedAt  *time.Time     `json:"createdAt,omitempty"`
}

// Resource is a long-lived owner of threads, usually a user. Working memory
// scoped to the resource is shared by all of its threads.
type Resource struct {
	ID            string         `json:"id"`
	WorkingMemory string         `json:"workingMemory,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// UpdateResourceInput describes a create-or-merge resource update.
// WorkingMemory replaces the stored value only when non-nil; Metadata is
// merged key by key.
type UpdateResourceInput struct {
	ResourceID    string
	WorkingMemory *string
	Metadata      map[string]any
}

// UpdateThreadInput changes a thread's title and merges metadata.
type UpdateThreadInput struct {
	ID       string
	Title    string
	Metadata map[string]any
}

// IncludeSelector requests a message plus a window of its neighbours.
type IncludeSelector struct {
	ID                   string `json:"id"`
	ThreadID             string `json:"threadId,omitempty"`
	WithPreviousMessages int    `json:"withPreviousMessages,omitempty"`
	WithNextMessages     int    `json:"withNextMessages,omitempty"`
}

// MessageSelector narrows a message query.
//
// Last bounds the number of most recent messages: nil selects the default,
// a pointer to zero selects none (only Include windows are returned).
type MessageSelector struct {
	Last    *int              `json:"last,omitempty"`
	Include []IncludeSelector `json:"include,omitempty"`
}

// LastN returns a selector limit of n messages.
func LastN(n int) *int {
	return &n
}

// NoLast returns a selector limit that disables the recent-message window.
func NoLast() *int {
	return LastN(0)
}

// GetMessagesArgs are the arguments of GetMessages.
type GetMessagesArgs struct {
	ThreadID   string
	ResourceID string
	Selector   *MessageSelector
}

// GetMessagesPaginatedArgs are the arguments of GetMessagesPaginated.
// PerPage nil falls back to Selector.Last, then to the default page size.
type GetMessagesPaginatedArgs struct {
	ThreadID   string
	ResourceID string
	Selector   *MessageSelector
	Page       int
	PerPage    *int
	DateRange  *DateRange
}

// ThreadOrderBy is the field threads are sorted by.
type ThreadOrderBy string

const (
	ThreadOrderByCreatedAt ThreadOrderBy = "createdAt"
	ThreadOrderByUpdatedAt ThreadOrderBy = "updatedAt"
)

// SortDirection orders listings.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// ThreadSort controls thread listing order. The zero value sorts by
// createdAt descending.
type ThreadSort struct {
	OrderBy   ThreadOrderBy
	Direction SortDirection
}

// GetThreadsArgs are the arguments of GetThreadsByResourceIDPaginated.
type GetThreadsArgs struct {
	ResourceID string
	Page       int
	PerPage    int
	Sort       ThreadSort
}

// PaginatedThreads is a page of threads.
type PaginatedThreads struct {
	PaginationInfo
	Threads []Thread `json:"threads"`
}

// PaginatedMessages is a page of messages.
type PaginatedMessages struct {
	PaginationInfo
	Messages []Message `json:"messages"`
}
