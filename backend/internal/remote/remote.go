// Package remote runs commands and file transfers on a target over SSH.
//
// Every call opens its own connection and closes it before returning.
// Nothing is pooled or reused between operations.
package remote

import (
	"context"

	"nasgate/backend/internal/types"
)

// Transport is the set of remote primitives the gateway builds on.
type Transport interface {
	Exec(ctx context.Context, t *types.Target, command string) (*types.ExecResult, error)
	ReadFile(ctx context.Context, t *types.Target, path string) ([]byte, error)
	WriteFile(ctx context.Context, t *types.Target, path string, data []byte) error
	ListDir(ctx context.Context, t *types.Target, dir string) ([]types.FileEntry, error)
	Remove(ctx context.Context, t *types.Target, path string) error
}
