package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Fetcher loads the authoritative value for a cache key.
type Fetcher func(ctx context.Context) (interface{}, error)

// Updater patches a cached value. It returns false when it could not apply the patch.
type Updater func(current interface{}) (interface{}, bool)

type queryEntry struct {
	data       interface{}
	hasData    bool
	fetcher    Fetcher
	generation uint64
	inFlight   bool
	updatedAt  time.Time
}

// QueryCacheService is the client-side, key-addressed cache. For each key at most one refetch
// is in flight; invalidations that arrive meanwhile schedule a single follow-up fetch and
// results of superseded fetches are dropped, so the last requested fetch wins.
type QueryCacheService struct {
	mu        sync.Mutex
	entries   map[string]*queryEntry
	listeners []func(key string)
	timeout   time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewQueryCacheService constructs the cache. timeout bounds each refetch.
func NewQueryCacheService(timeout time.Duration, metrics *MetricsService, logger *zap.Logger) *QueryCacheService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryCacheService{entries: make(map[string]*queryEntry), timeout: timeout, metrics: metrics, logger: logger}
}

// Register attaches the fetcher used when key is invalidated.
func (s *QueryCacheService) Register(key string, fetcher Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(key).fetcher = fetcher
}

// OnChange subscribes to successful writes of any key.
func (s *QueryCacheService) OnChange(listener func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// GetData returns the cached value for key.
func (s *QueryCacheService) GetData(key string) (interface{}, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	hit := ok && e.hasData
	var data interface{}
	if hit {
		data = e.data
	}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(hit)
	}
	return data, hit
}

// SetData applies updater to the cached value. When a refetch is in flight its result may
// predate the patch, so the patch also supersedes it.
func (s *QueryCacheService) SetData(key string, updater Updater) bool {
	s.mu.Lock()
	e := s.entry(key)
	next, ok := updater(e.data)
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.data = next
	e.hasData = true
	e.updatedAt = time.Now().UTC()
	if e.inFlight {
		e.generation++
	}
	s.mu.Unlock()
	s.notify(key)
	return true
}

// Invalidate marks key stale and refetches it in the background.
func (s *QueryCacheService) Invalidate(key string) {
	s.mu.Lock()
	e := s.entry(key)
	e.generation++
	if e.fetcher == nil {
		s.mu.Unlock()
		return
	}
	if e.inFlight {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ObserveRefetch(RefetchCollapsed, 0)
		}
		return
	}
	e.inFlight = true
	gen := e.generation
	fetcher := e.fetcher
	s.wg.Add(1)
	s.mu.Unlock()

	go s.refetch(key, gen, fetcher)
}

// Wait blocks until no refetch is running.
func (s *QueryCacheService) Wait() {
	s.wg.Wait()
}

func (s *QueryCacheService) refetch(key string, gen uint64, fetcher Fetcher) {
	defer s.wg.Done()
	for {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		data, err := fetcher(ctx)
		cancel()
		duration := time.Since(start)

		s.mu.Lock()
		e := s.entries[key]
		if e.generation != gen {
			// superseded while in flight; fetch once more for the latest request
			gen = e.generation
			fetcher = e.fetcher
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.ObserveRefetch(RefetchDiscarded, duration)
			}
			continue
		}
		e.inFlight = false
		if err != nil {
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.ObserveRefetch(RefetchFailed, duration)
			}
			s.logger.Warn("query refetch failed", zap.String("key", key), zap.Error(err))
			return
		}
		e.data = data
		e.hasData = true
		e.updatedAt = time.Now().UTC()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.ObserveRefetch(RefetchFetched, duration)
		}
		s.notify(key)
		return
	}
}

func (s *QueryCacheService) notify(key string) {
	s.mu.Lock()
	listeners := make([]func(string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, listener := range listeners {
		listener(key)
	}
}

func (s *QueryCacheService) entry(key string) *queryEntry {
	e, ok := s.entries[key]
	if !ok {
		e = &queryEntry{}
		s.entries[key] = e
	}
	return e
}
