package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ChainStore resolves connections from several stores in order. The first
// store that knows an id wins; ListConnections merges all stores with the
// same precedence.
type ChainStore struct {
	stores []ConnectionStore
}

var _ ConnectionStore = (*ChainStore)(nil)

// NewChainStore creates a store over stores, skipping nil entries.
func NewChainStore(stores ...ConnectionStore) *ChainStore {
	c := &ChainStore{}
	for _, s := range stores {
		if s != nil {
			c.stores = append(c.stores, s)
		}
	}
	return c
}

// GetConnection implements ConnectionStore.
func (c *ChainStore) GetConnection(ctx context.Context, id int64) (ConnectionInfo, error) {
	for _, s := range c.stores {
		info, err := s.GetConnection(ctx, id)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrConnectionNotFound) {
			return ConnectionInfo{}, err
		}
	}
	return ConnectionInfo{}, fmt.Errorf("%w: %d", ErrConnectionNotFound, id)
}

// ListConnections implements ConnectionStore.
func (c *ChainStore) ListConnections(ctx context.Context) ([]ConnectionInfo, error) {
	seen := make(map[int64]struct{})
	var out []ConnectionInfo
	for _, s := range c.stores {
		conns, err := s.ListConnections(ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range conns {
			if _, dup := seen[info.ID]; dup {
				continue
			}
			seen[info.ID] = struct{}{}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
