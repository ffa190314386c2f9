package lookup

import (
	"context"
	"errors"
)

// ErrUnavailable marks a failure of the enrichment service itself, as
// opposed to a key that has no match. Callers treat it as transient:
// the current file is skipped without advancing its cursor and picked
// up again on a later run.
var ErrUnavailable = errors.New("enrichment service unavailable")

// Client resolves a natural key, typically a serial number, to its
// enrichment attributes. A miss returns a nil map and no error. An
// error means the service failed and the whole batch should be
// abandoned.
type Client interface {
	Lookup(ctx context.Context, key string) (map[string]string, error)
	Close() error
}

// Static is a fixed in-memory Client used by previews and tests.
type Static map[string]map[string]string

func (s Static) Lookup(_ context.Context, key string) (map[string]string, error) {
	attrs, ok := s[key]
	if !ok {
		return nil, nil
	}
	return attrs, nil
}

func (s Static) Close() error { return nil }
