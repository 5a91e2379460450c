package adapter

import "context"

// AssetStore persists provider output bytes and returns a storage key.
type AssetStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	URL(key string) string
}
