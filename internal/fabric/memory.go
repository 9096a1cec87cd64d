package fabric

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryGateway is a deterministic in-process Gateway used by tests and as
// the local fallback when Redis is unreachable. Pub/Sub delivery is local
// only: there is no second process to fan out to.
type MemoryGateway struct {
	mu sync.Mutex

	values  map[string]memVal
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	lists   map[string][][]byte
	subs    map[string][]func([]byte)
}

type memVal struct {
	data    []byte
	expires time.Time
	hasTTL  bool
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		values: make(map[string]memVal),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		lists:  make(map[string][][]byte),
		subs:   make(map[string][]func([]byte)),
	}
}

func (m *MemoryGateway) Close() error               { return nil }
func (m *MemoryGateway) Ping(ctx context.Context) error { return nil }

func (m *MemoryGateway) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	if v.hasTTL && time.Now().After(v.expires) {
		delete(m.values, key)
		return nil, false, nil
	}
	return v.data, true, nil
}

func (m *MemoryGateway) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := memVal{data: value}
	if ttl > 0 {
		v.hasTTL = true
		v.expires = time.Now().Add(ttl)
	}
	m.values[key] = v
	return nil
}

func (m *MemoryGateway) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.sets, k)
		delete(m.zsets, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *MemoryGateway) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *MemoryGateway) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(s, mem)
	}
	return nil
}

func (m *MemoryGateway) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(s))
	for mem := range s {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryGateway) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *MemoryGateway) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for mem, score := range z {
		if score >= min && score <= max {
			delete(z, mem)
		}
	}
	return nil
}

func (m *MemoryGateway) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryGateway) ZOldestScore(ctx context.Context, key string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok || len(z) == 0 {
		return 0, false, nil
	}
	first := true
	var oldest float64
	for _, score := range z {
		if first || score < oldest {
			oldest = score
			first = false
		}
	}
	return oldest, true, nil
}

func (m *MemoryGateway) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		v.hasTTL = true
		v.expires = time.Now().Add(ttl)
		m.values[key] = v
	}
	return nil
}

func (m *MemoryGateway) LPush(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([][]byte{value}, m.lists[key]...)
	return nil
}

// BRPop blocks (polling) until an element is available or timeout elapses.
func (m *MemoryGateway) BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		l := m.lists[key]
		if len(l) > 0 {
			val := l[len(l)-1]
			m.lists[key] = l[:len(l)-1]
			m.mu.Unlock()
			return val, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (m *MemoryGateway) LRem(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	out := l[:0]
	for _, v := range l {
		if string(v) != string(value) {
			out = append(out, v)
		}
	}
	m.lists[key] = out
	return nil
}

func (m *MemoryGateway) Publish(ctx context.Context, channel string, message []byte) error {
	m.mu.Lock()
	handlers := append([]func([]byte){}, m.subs[channel]...)
	m.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(message)
		}
	}
	return nil
}

func (m *MemoryGateway) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], handler)
	idx := len(m.subs[channel]) - 1
	m.mu.Unlock()

	unsub := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		handlers := m.subs[channel]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
	return unsub, nil
}
