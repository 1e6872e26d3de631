package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

var errNoEndpoints = errors.New("solana: at least one rpc endpoint is required")

type endpoint struct {
	url    string
	client *rpc.Client
}

// endpointPool calls the primary endpoint first and the fallbacks in order after transport failures.
// A JSON-RPC error answer or a missing record is authoritative and never retried elsewhere.
type endpointPool struct {
	endpoints []endpoint
	logger    *zap.Logger
}

func newEndpointPool(urls []string, logger *zap.Logger) (*endpointPool, error) {
	pool := &endpointPool{logger: logger}
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		pool.endpoints = append(pool.endpoints, endpoint{url: trimmed, client: rpc.New(trimmed)})
	}
	if len(pool.endpoints) == 0 {
		return nil, errNoEndpoints
	}
	return pool, nil
}

func (pool *endpointPool) do(ctx context.Context, method string, call func(ctx context.Context, client *rpc.Client) error) error {
	var lastErr error
	for index, current := range pool.endpoints {
		err := call(ctx, current.client)
		if err == nil || isAuthoritative(err) {
			return err
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", method, errors.Join(ctxErr, err))
		}
		if index < len(pool.endpoints)-1 {
			pool.logger.Warn("solana rpc endpoint failed, trying fallback",
				zap.String("method", method),
				zap.String("endpoint", current.url),
				zap.Error(err),
			)
		}
	}
	return fmt.Errorf("%s: all endpoints failed: %w", method, lastErr)
}

func (pool *endpointPool) close() error {
	var closeErr error
	for _, current := range pool.endpoints {
		closeErr = errors.Join(closeErr, current.client.Close())
	}
	return closeErr
}

func isAuthoritative(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr)
}
