package ratelimit

import (
	"sync"
	"time"
)

// Result cho biết request có được đi tiếp không và thông tin cho header
// X-RateLimit-* trả về client.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Store đếm request theo key trong cửa sổ cố định. Trạng thái nằm trong
// process: mỗi instance đếm riêng, không chia sẻ qua DB hay cache ngoài.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	max     int
}

func NewStore(window time.Duration, max int) *Store {
	return &Store{
		buckets: make(map[string]*bucket),
		window:  window,
		max:     max,
	}
}

// Consume trừ một lượt của key. Cửa sổ hết hạn thì đếm lại từ đầu.
func (s *Store) Consume(key string) Result {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(s.window)}
		s.buckets[key] = b
	}

	if b.count >= s.max {
		return Result{Allowed: false, Remaining: 0, Reset: b.resetAt}
	}
	b.count++
	return Result{Allowed: true, Remaining: s.max - b.count, Reset: b.resetAt}
}

// Cleanup xóa các bucket đã hết cửa sổ để map không phình vô hạn.
func (s *Store) Cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.After(b.resetAt) {
			delete(s.buckets, key)
		}
	}
}
