package datasource

import (
	"context"
	"fmt"
	"sort"
)

// StaticStore serves a fixed set of connections, typically from config.
type StaticStore struct {
	conns map[int64]ConnectionInfo
}

// NewStaticStore creates a store holding conns.
func NewStaticStore(conns ...ConnectionInfo) *StaticStore {
	s := &StaticStore{conns: make(map[int64]ConnectionInfo, len(conns))}
	for _, c := range conns {
		s.conns[c.ID] = c
	}
	return s
}

// GetConnection implements ConnectionStore.
func (s *StaticStore) GetConnection(_ context.Context, id int64) (ConnectionInfo, error) {
	c, ok := s.conns[id]
	if !ok {
		return ConnectionInfo{}, fmt.Errorf("%w: %d", ErrConnectionNotFound, id)
	}
	return c, nil
}

// ListConnections implements ConnectionStore.
func (s *StaticStore) ListConnections(context.Context) ([]ConnectionInfo, error) {
	out := make([]ConnectionInfo, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
