package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and --dev runs. TTLs are
// honored lazily on read against the injectable clock.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	lists  map[string][][]byte
	hashes map[string]map[string][]byte

	// Now is the clock used for expiry checks. Tests may replace it.
	Now func() time.Time
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time // zero = no expiry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		lists:  make(map[string][][]byte),
		hashes: make(map[string]map[string][]byte),
		Now:    time.Now,
	}
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

func (s *MemoryStore) expired(v memoryValue) bool {
	return !v.expiresAt.IsZero() && !s.Now().Before(v.expiresAt)
}

func (s *MemoryStore) liveValue(key string) (memoryValue, bool) {
	v, ok := s.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if s.expired(v) {
		delete(s.values, key)
		return memoryValue{}, false
	}
	return v, true
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.liveValue(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v.data...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{data: append([]byte(nil), value...), expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveValue(key); ok {
		return false, nil
	}
	s.values[key] = memoryValue{data: append([]byte(nil), value...), expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if v, ok := s.liveValue(key); ok {
		parsed, err := strconv.ParseInt(string(v.data), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	existing := s.values[key]
	s.values[key] = memoryValue{data: []byte(strconv.FormatInt(n, 10)), expiresAt: existing.expiresAt}
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.liveValue(key); ok {
		v.expiresAt = s.deadline(ttl)
		s.values[key] = v
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.lists, key)
	delete(s.hashes, key)
	return nil
}

func (s *MemoryStore) LPush(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([][]byte{append([]byte(nil), value...)}, s.lists[key]...)
	return nil
}

func (s *MemoryStore) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (string, []byte, bool, error) {
	deadline := s.Now().Add(timeout)
	for {
		s.mu.Lock()
		for _, key := range keys {
			list := s.lists[key]
			if len(list) == 0 {
				continue
			}
			value := list[len(list)-1]
			s.lists[key] = list[:len(list)-1]
			s.mu.Unlock()
			return key, value, true, nil
		}
		s.mu.Unlock()

		if !s.Now().Before(deadline) {
			return "", nil, false, nil
		}
		select {
		case <-ctx.Done():
			return "", nil, false, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range list[start : stop+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		s.lists[key] = nil
		return nil
	}
	s.lists[key] = list[start : stop+1]
	return nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	h[field] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[key][field]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (s *MemoryStore) HDel(_ context.Context, key, field string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[key][field]; !ok {
		return false, nil
	}
	delete(s.hashes[key], field)
	return true, nil
}

func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	var cur int64
	if raw, ok := h[field]; ok {
		parsed, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return err
		}
		cur = parsed
	}
	h[field] = []byte(strconv.FormatInt(cur+n, 10))
	return nil
}

func (s *MemoryStore) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, v := range s.values {
		if strings.HasPrefix(k, prefix) && !s.expired(v) {
			keys = append(keys, k)
		}
	}
	for k := range s.lists {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
