// Package downloader runs the bounded worker pool that fetches post images.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/ratelimit"
)

// MediaJob represents a single image download task.
type MediaJob struct {
	URL    string
	PostID string
	Index  int
	Title  string
}

// MediaResult represents the result of a download job.
type MediaResult struct {
	Job      MediaJob
	Success  bool
	Skipped  bool
	Error    error
	Duration time.Duration
	Size     int
}

// MediaFetcher downloads a single image.
type MediaFetcher interface {
	FetchMedia(url string) ([]byte, error)
}

// MediaStorage persists downloaded images and reports duplicates.
type MediaStorage interface {
	IsDownloaded(postID string, index int) bool
	SaveImage(r io.Reader, postID string, index int) error
}

// WorkerPool manages concurrent download workers.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan MediaJob
	resultQueue chan MediaResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     MediaFetcher
	storage     MediaStorage
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a download worker pool.
func NewWorkerPool(
	numWorkers int,
	fetcher MediaFetcher,
	storage MediaStorage,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan MediaJob, numWorkers*2),
		resultQueue: make(chan MediaResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		storage:     storage,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start launches all workers.
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("starting download pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the job queue, waits for the workers to drain it, then closes
// the result queue.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("download pool stopped")
}

// Submit adds a download job to the queue.
func (wp *WorkerPool) Submit(job MediaJob) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("download pool is shutting down")
	}
}

// Results returns the result channel for consuming download outcomes.
func (wp *WorkerPool) Results() <-chan MediaResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processJob downloads and stores one image. Failures stay inside the
// result so one bad URL never takes down the pool.
func (wp *WorkerPool) processJob(job MediaJob, workerID int) MediaResult {
	start := time.Now()
	result := MediaResult{Job: job}

	if wp.storage.IsDownloaded(job.PostID, job.Index) {
		wp.logger.DebugWithFields("image already downloaded", map[string]interface{}{
			"post_id": job.PostID,
			"index":   job.Index,
		})
		result.Success = true
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	if wp.rateLimiter != nil && !wp.rateLimiter.Allow() {
		wp.rateLimiter.Wait()
	}

	data, err := wp.fetcher.FetchMedia(job.URL)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)

		wp.logger.ErrorWithFields("failed to download image", map[string]interface{}{
			"worker_id": workerID,
			"post_id":   job.PostID,
			"index":     job.Index,
			"error":     err.Error(),
		})
		return result
	}

	result.Size = len(data)

	if err := wp.storage.SaveImage(bytes.NewReader(data), job.PostID, job.Index); err != nil {
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)

		wp.logger.ErrorWithFields("failed to save image", map[string]interface{}{
			"worker_id": workerID,
			"post_id":   job.PostID,
			"index":     job.Index,
			"error":     err.Error(),
		})
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)

	wp.logger.DebugWithFields("image downloaded", map[string]interface{}{
		"worker_id": workerID,
		"post_id":   job.PostID,
		"index":     job.Index,
		"size":      result.Size,
	})

	return result
}

// GetQueueSize returns the current number of queued jobs.
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

// HTTPFetcher fetches images over HTTP with browser-like headers. XHS image
// CDNs reject requests without a referer.
type HTTPFetcher struct {
	client  *http.Client
	headers map[string]string
}

// NewHTTPFetcher creates a fetcher with the given timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Referer":    "https://www.xiaohongshu.com/",
			"Accept":     "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
		},
	}
}

// FetchMedia downloads a single image.
func (f *HTTPFetcher) FetchMedia(url string) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return data, nil
}
