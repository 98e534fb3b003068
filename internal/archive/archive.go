// Package archive stores raw messages in object storage for local delivery.
package archive

import "context"

// Archive is the blob store the gateway writes archived messages to.
type Archive interface {
	// Put writes content under path with the given object metadata.
	Put(ctx context.Context, path string, content []byte, metadata map[string]string) error

	// EnsureContainerExists creates the backing container if needed.
	EnsureContainerExists(ctx context.Context) error
}
