package port

import (
	"context"
	"errors"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

type ObjectStore interface {
	// Fetch returns the object body as text.
	Fetch(ctx context.Context, key string) (string, error)
}
