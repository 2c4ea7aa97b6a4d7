package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"xhsresearch/internal/downloader"
	"xhsresearch/pkg/apify"
	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/models"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/ratelimit"
	"xhsresearch/pkg/storage"
	"xhsresearch/pkg/workflow"
)

// Searcher runs a keyword search against the scraping actor.
type Searcher interface {
	Search(ctx context.Context, keywords []string, maxItems int) ([]models.Post, error)
}

// Scrape is stage 1: run the actor search, save the raw posts and download
// the cover images through the worker pool.
type Scrape struct {
	// Client overrides the actor client built from configuration. Set in
	// tests.
	Client Searcher
}

func (s *Scrape) Name() string   { return "scrape" }
func (s *Scrape) Key() string    { return "step1_scraped" }
func (s *Scrape) Required() bool { return true }
func (s *Scrape) Heavy() bool    { return false }

func (s *Scrape) Run(ctx context.Context, wf *workflow.Config, params pipeline.Params) error {
	cfg := params.Config
	log := params.Logger

	client := s.Client
	if client == nil {
		if cfg.Apify.APIToken == "" {
			return errors.New(errors.ErrorTypeConfiguration,
				"apify API token is not configured (set APIFY_API_TOKEN or run auth set apify)")
		}
		client = apify.NewClient(cfg.Apify.APIToken, cfg.Apify.ActorID, cfg.Apify.Timeout, log)
	}

	maxItems := cfg.Pipeline.MaxItems
	log.InfoWithFields("searching posts", map[string]interface{}{
		"query":     wf.Query,
		"max_items": maxItems,
	})

	posts, err := client.Search(ctx, []string{wf.Query}, maxItems)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(posts) == 0 {
		return fmt.Errorf("search for %q returned no posts", wf.Query)
	}

	scrapedDir, err := wf.Dir("step1_scraped")
	if err != nil {
		return err
	}
	rawPath := filepath.Join(scrapedDir,
		fmt.Sprintf("search_%s.json", time.Now().Format("20060102_150405")))
	if err := writeJSON(rawPath, posts); err != nil {
		return err
	}

	stats := models.ComputeStatistics(posts)
	log.InfoWithFields("scrape complete", map[string]interface{}{
		"posts":       stats.TotalPosts,
		"images":      stats.TotalImages,
		"total_likes": stats.TotalLikes,
		"saved_to":    rawPath,
	})

	if params.NoDownload {
		log.Info("image download skipped")
		return nil
	}

	refs := models.ExtractImageURLs(posts)
	if cfg.Download.MaxDownloads > 0 && len(refs) > cfg.Download.MaxDownloads {
		refs = refs[:cfg.Download.MaxDownloads]
	}
	if len(refs) == 0 {
		log.Warn("no downloadable images found in posts")
		return nil
	}

	imagesDir, err := wf.Dir("step1_images")
	if err != nil {
		return err
	}
	return downloadImages(refs, imagesDir, cfg.Download.ConcurrentDownloads,
		cfg.Download.DownloadTimeout, cfg.RateLimit.RequestsPerMinute, params)
}

// downloadImages runs the worker pool over the extracted image references
// and logs a summary. Individual failures do not fail the stage.
func downloadImages(refs []models.ImageRef, imagesDir string, workers int,
	timeout time.Duration, requestsPerMinute int, params pipeline.Params) error {
	log := params.Logger

	manager, err := storage.NewManager(imagesDir)
	if err != nil {
		return fmt.Errorf("failed to prepare image directory: %w", err)
	}

	limiter := ratelimit.NewTokenBucket(requestsPerMinute, time.Minute)
	pool := downloader.NewWorkerPool(workers,
		downloader.NewHTTPFetcher(timeout), manager, limiter, log)
	pool.Start()

	go func() {
		for _, ref := range refs {
			if err := pool.Submit(downloader.MediaJob{
				URL:    ref.URL,
				PostID: ref.PostID,
				Index:  ref.Index,
				Title:  ref.Title,
			}); err != nil {
				return
			}
		}
		pool.Stop()
	}()

	var downloaded, skipped, failed int
	for result := range pool.Results() {
		switch {
		case result.Skipped:
			skipped++
		case result.Success:
			downloaded++
		default:
			failed++
		}
	}

	log.InfoWithFields("image download complete", map[string]interface{}{
		"downloaded": downloaded,
		"skipped":    skipped,
		"failed":     failed,
		"directory":  imagesDir,
	})
	return nil
}
