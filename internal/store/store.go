// Package store exposes the shared key-tree store every client
// coordinates through. Documents are addressed by slash-separated
// paths, writes are last-write-wins per document, and subscribers
// observe committed writes in order. There is no atomicity across
// documents: callers are expected to re-validate preconditions against
// a fresh read immediately before writing and to treat redundant
// writes as no-ops.
package store

import (
	"context"
	"encoding/json"
)

// Snapshot is the state of one document at a point in time.
type Snapshot struct {
	Path string
	data []byte
}

func NewSnapshot(path string, data []byte) Snapshot {
	return Snapshot{Path: path, data: data}
}

// Exists reports whether the document was present when read.
func (s Snapshot) Exists() bool {
	return s.data != nil
}

func (s Snapshot) Raw() []byte {
	return s.data
}

func (s Snapshot) Decode(v any) error {
	return json.Unmarshal(s.data, v)
}

// Event is one committed write observed by a subscriber. Data is nil
// when the document was deleted.
type Event struct {
	Path string
	Data []byte
}

// Subscription streams events for a path and all of its descendants.
type Subscription struct {
	events chan Event
	close  func() error
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() error {
	return s.close()
}

// DisconnectHook is an armed compensating write that the store applies
// when the registering client vanishes without a graceful close. A hook
// fires at most once; re-establishing the guarded document must re-arm
// it. Cancel disarms it, which a graceful shutdown must do before
// performing the equivalent write itself.
type DisconnectHook struct {
	Path   string
	cancel func(ctx context.Context) error
}

func (h *DisconnectHook) Cancel(ctx context.Context) error {
	return h.cancel(ctx)
}

type Store interface {
	// Get reads a single document. A missing document yields a
	// Snapshot with Exists() == false, not an error.
	Get(ctx context.Context, path string) (Snapshot, error)

	// List reads the immediate children of a path, keyed by child name.
	List(ctx context.Context, path string) (map[string]Snapshot, error)

	// Set replaces the document at path with value.
	Set(ctx context.Context, path string, value any) error

	// Update merges fields into the document at path. Field keys may be
	// slash-separated to address nested values; a nil value removes the
	// addressed key.
	Update(ctx context.Context, path string, fields map[string]any) error

	Delete(ctx context.Context, path string) error

	Subscribe(ctx context.Context, path string) (*Subscription, error)

	// OnDisconnectSet arms a merge of fields into path to run if this
	// client disconnects abruptly. Re-arming for the same path replaces
	// the previous hook.
	OnDisconnectSet(ctx context.Context, path string, fields map[string]any) (*DisconnectHook, error)
}
