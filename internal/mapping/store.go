package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store loads and saves the mapping sequence.
type Store interface {
	// Load returns the stored entries. A mapping that was never written loads
	// as an empty sequence.
	Load(ctx context.Context) ([]Entry, error)

	// Save replaces the stored entries as a whole.
	Save(ctx context.Context, entries []Entry) error

	// Location describes where the mapping lives, for logging.
	Location() string
}

// Open returns the store for path: a GCSStore for gs:// URIs, otherwise a
// FileStore.
func Open(ctx context.Context, path string) (Store, error) {
	if strings.HasPrefix(path, gcsScheme) {
		return NewGCSStore(ctx, path)
	}
	return NewFileStore(path), nil
}

// Encode renders entries the way they are written to storage.
func Encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode mapping: %w", err)
	}
	return data, nil
}

// Decode parses stored mapping bytes. Empty input decodes as no entries.
func Decode(data []byte) ([]Entry, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
