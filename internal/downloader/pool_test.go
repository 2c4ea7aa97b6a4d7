package downloader

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/ratelimit"
)

// mockFetcher is a mock image fetcher
type mockFetcher struct {
	fetchDelay   time.Duration
	fetchError   error
	fetchCounter int32
}

func (m *mockFetcher) FetchMedia(url string) ([]byte, error) {
	atomic.AddInt32(&m.fetchCounter, 1)
	if m.fetchDelay > 0 {
		time.Sleep(m.fetchDelay)
	}
	if m.fetchError != nil {
		return nil, m.fetchError
	}
	return []byte("mock image data"), nil
}

func (m *mockFetcher) fetchCount() int {
	return int(atomic.LoadInt32(&m.fetchCounter))
}

// mockStorage is a mock image store
type mockStorage struct {
	saved     map[string]bool
	saveError error
	mu        sync.Mutex
}

func newMockStorage() *mockStorage {
	return &mockStorage{saved: make(map[string]bool)}
}

func (m *mockStorage) IsDownloaded(postID string, index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[fmt.Sprintf("%s_%d", postID, index)]
}

func (m *mockStorage) SaveImage(r io.Reader, postID string, index int) error {
	if m.saveError != nil {
		return m.saveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[fmt.Sprintf("%s_%d", postID, index)] = true
	return nil
}

func (m *mockStorage) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func collectResults(pool *WorkerPool, wg *sync.WaitGroup, results *[]MediaResult) {
	defer wg.Done()
	for result := range pool.Results() {
		*results = append(*results, result)
	}
}

func TestWorkerPoolDownloadsAllJobs(t *testing.T) {
	fetcher := &mockFetcher{fetchDelay: 5 * time.Millisecond}
	storage := newMockStorage()
	limiter := ratelimit.NewTokenBucket(100, time.Second)

	pool := NewWorkerPool(3, fetcher, storage, limiter, logger.NewNopLogger())
	pool.Start()

	var results []MediaResult
	var wg sync.WaitGroup
	wg.Add(1)
	go collectResults(pool, &wg, &results)

	numJobs := 10
	for i := 0; i < numJobs; i++ {
		job := MediaJob{
			URL:    fmt.Sprintf("https://img.example/photo%d.jpg", i),
			PostID: fmt.Sprintf("post%d", i),
			Index:  0,
			Title:  "test",
		}
		if err := pool.Submit(job); err != nil {
			t.Errorf("failed to submit job %d: %v", i, err)
		}
	}

	pool.Stop()
	wg.Wait()

	if len(results) != numJobs {
		t.Errorf("expected %d results, got %d", numJobs, len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("job %s failed: %v", r.Job.PostID, r.Error)
		}
	}
	if storage.savedCount() != numJobs {
		t.Errorf("expected %d saved images, got %d", numJobs, storage.savedCount())
	}
}

func TestWorkerPoolSkipsDuplicates(t *testing.T) {
	fetcher := &mockFetcher{}
	storage := newMockStorage()
	storage.saved["dup_0"] = true

	pool := NewWorkerPool(2, fetcher, storage, ratelimit.NewTokenBucket(100, time.Second), logger.NewNopLogger())
	pool.Start()

	var results []MediaResult
	var wg sync.WaitGroup
	wg.Add(1)
	go collectResults(pool, &wg, &results)

	if err := pool.Submit(MediaJob{URL: "https://img.example/a.jpg", PostID: "dup", Index: 0}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	pool.Stop()
	wg.Wait()

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Success || !results[0].Skipped {
		t.Errorf("expected a skipped success, got %+v", results[0])
	}
	if fetcher.fetchCount() != 0 {
		t.Errorf("duplicate should not be fetched, got %d fetches", fetcher.fetchCount())
	}
}

func TestWorkerPoolIsolatesFailures(t *testing.T) {
	fetcher := &mockFetcher{fetchError: fmt.Errorf("connection reset")}
	storage := newMockStorage()

	pool := NewWorkerPool(2, fetcher, storage, ratelimit.NewTokenBucket(100, time.Second), logger.NewNopLogger())
	pool.Start()

	var results []MediaResult
	var wg sync.WaitGroup
	wg.Add(1)
	go collectResults(pool, &wg, &results)

	for i := 0; i < 4; i++ {
		if err := pool.Submit(MediaJob{
			URL:    fmt.Sprintf("https://img.example/%d.jpg", i),
			PostID: fmt.Sprintf("post%d", i),
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	pool.Stop()
	wg.Wait()

	if len(results) != 4 {
		t.Fatalf("expected 4 results even with failures, got %d", len(results))
	}
	for _, r := range results {
		if r.Success {
			t.Errorf("job %s should have failed", r.Job.PostID)
		}
		if r.Error == nil {
			t.Errorf("failed job %s carries no error", r.Job.PostID)
		}
	}
}

func TestWorkerPoolSaveFailure(t *testing.T) {
	fetcher := &mockFetcher{}
	storage := newMockStorage()
	storage.saveError = fmt.Errorf("disk full")

	pool := NewWorkerPool(1, fetcher, storage, ratelimit.NewTokenBucket(100, time.Second), logger.NewNopLogger())
	pool.Start()

	var results []MediaResult
	var wg sync.WaitGroup
	wg.Add(1)
	go collectResults(pool, &wg, &results)

	if err := pool.Submit(MediaJob{URL: "https://img.example/a.jpg", PostID: "p1"}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	pool.Stop()
	wg.Wait()

	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected one failed result, got %+v", results)
	}
}
