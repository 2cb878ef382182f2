package cache

import (
	"sync"
	"time"
)

type Stats struct {
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	Sets            int64         `json:"sets"`
	Deletes         int64         `json:"deletes"`
	Errors          int64         `json:"errors"`
	TotalOperations int64         `json:"total_operations"`
	HitRate         float64       `json:"hit_rate"`
	AverageGetTime  time.Duration `json:"average_get_time"`
	AverageSetTime  time.Duration `json:"average_set_time"`
}

type collector struct {
	mu       sync.Mutex
	hits     int64
	misses   int64
	sets     int64
	deletes  int64
	errors   int64
	total    int64
	getTime  time.Duration
	setTime  time.Duration
	getCount int64
}

func (s *collector) hit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *collector) miss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

func (s *collector) fail() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func (s *collector) ops(n int) {
	s.mu.Lock()
	s.total += int64(n)
	s.mu.Unlock()
}

func (s *collector) observeGet(d time.Duration) {
	s.mu.Lock()
	s.getTime += d
	s.getCount++
	s.total++
	s.mu.Unlock()
}

func (s *collector) observeSet(d time.Duration, n int) {
	s.mu.Lock()
	s.setTime += d
	s.sets += int64(n)
	s.total += int64(n)
	s.mu.Unlock()
}

func (s *collector) deleted() {
	s.mu.Lock()
	s.deletes++
	s.total++
	s.mu.Unlock()
}

func (s *collector) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Hits:            s.hits,
		Misses:          s.misses,
		Sets:            s.sets,
		Deletes:         s.deletes,
		Errors:          s.errors,
		TotalOperations: s.total,
	}
	if lookups := s.hits + s.misses; lookups > 0 {
		out.HitRate = float64(s.hits) / float64(lookups)
	}
	if s.getCount > 0 {
		out.AverageGetTime = s.getTime / time.Duration(s.getCount)
	}
	if s.sets > 0 {
		out.AverageSetTime = s.setTime / time.Duration(s.sets)
	}
	return out
}

func (s *collector) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits, s.misses, s.sets, s.deletes, s.errors, s.total, s.getCount = 0, 0, 0, 0, 0, 0, 0
	s.getTime, s.setTime = 0, 0
}
