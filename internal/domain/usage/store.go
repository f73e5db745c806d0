package usage

import "context"

// UpdateFunc receives the current record (zero value and false when absent)
// and returns the record to persist.
type UpdateFunc func(current Record, found bool) (Record, error)

// Store persists usage records keyed by device.
type Store interface {
	Load(ctx context.Context, key string) (Record, bool, error)
	Save(ctx context.Context, key string, record Record) error
	// Update runs fn as one atomic read-modify-write on key.
	Update(ctx context.Context, key string, fn UpdateFunc) (Record, error)
}
