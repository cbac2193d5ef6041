package memorystore

import (
	"reflect"

	"github.com/blueberrycongee/convostore/internal/storage"
)

// mergeContent merges update into existing message content. Keys of update
// override existing keys, except "metadata": when both sides hold a document
// the two are merged key by key, one level deep. Neither argument is
// modified.
func mergeContent(existing, update map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(update))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range update {
		if k == "metadata" {
			oldMeta := storage.ToMap(existing["metadata"])
			newMeta := storage.ToMap(v)
			if oldMeta != nil && newMeta != nil {
				out[k] = mergeMetadata(oldMeta, newMeta)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// mergeMetadata merges update over existing, key by key.
func mergeMetadata(existing, update map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(update))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

func sameValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
