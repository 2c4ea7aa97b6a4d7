package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xhsresearch/internal/stages"
	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

var (
	// Scrape command flags
	scrapeMaxItems     int
	scrapeDownload     bool
	scrapeMaxDownloads int
	scrapeDate         string
	scrapeOutputDir    string
	scrapedDirOverride string
	imagesDirOverride  string
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape <query>",
	Short: "Search Xiaohongshu posts and download their images",
	Long: `Search Xiaohongshu for a query through the Apify actor, save the raw
posts as JSON, and download the post images with a bounded worker pool.

This is stage 1 of the pipeline run standalone. The results land under
<output>/<date>/<query>/step1_scraped and step1_images, ready for the
analysis stages.

An Apify API token is required. Store one with 'xhsresearch auth set apify'
or export APIFY_API_TOKEN.`,
	Example: `  # Scrape with defaults (30 posts, images downloaded)
  xhsresearch scrape "matcha skincare"

  # Metadata only, no image downloads
  xhsresearch scrape "matcha skincare" --download=false

  # Cap the haul
  xhsresearch scrape "matcha skincare" --max-items 50 --max-downloads 20`,
	Args: cobra.ExactArgs(1),
	Run:  runScrapeCmd,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().IntVar(&scrapeMaxItems, "max-items", 0, "maximum posts to fetch (default from config)")
	scrapeCmd.Flags().BoolVar(&scrapeDownload, "download", true, "download post images")
	scrapeCmd.Flags().IntVar(&scrapeMaxDownloads, "max-downloads", 0, "maximum images to download (0 = no limit)")
	scrapeCmd.Flags().StringVar(&scrapeDate, "date", "", "run date as YYYYMMDD (default today)")
	scrapeCmd.Flags().StringVarP(&scrapeOutputDir, "output", "o", "", "base output directory")
	scrapeCmd.Flags().StringVar(&scrapedDirOverride, "scraped-dir", "", "override directory for raw post JSON")
	scrapeCmd.Flags().StringVar(&imagesDirOverride, "images-dir", "", "override directory for downloaded images")
}

func runScrapeCmd(cmd *cobra.Command, args []string) {
	query := strings.TrimSpace(args[0])

	flags := make(map[string]interface{})
	if scrapeOutputDir != "" {
		flags["output"] = scrapeOutputDir
	}
	if scrapeMaxItems > 0 {
		flags["max-items"] = scrapeMaxItems
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fatal("failed to load configuration", err)
	}
	if scrapeMaxDownloads > 0 {
		cfg.Download.MaxDownloads = scrapeMaxDownloads
	}

	wf, err := workflow.New(cfg.Output.BaseDirectory, query, scrapeDate)
	if err != nil {
		fatal("failed to set up run directory", err)
	}
	overrideDir(wf, "step1_scraped", scrapedDirOverride)
	overrideDir(wf, "step1_images", imagesDirOverride)
	if err := wf.Save(); err != nil {
		fatal("failed to save run configuration", err)
	}

	log := logger.GetLogger()
	log.WithField("query", query).Info("starting scrape")

	params := pipeline.Params{
		Config:     cfg,
		NoDownload: !scrapeDownload,
		Logger:     log,
	}

	stage := &stages.Scrape{}
	if err := stage.Run(context.Background(), wf, params); err != nil {
		log.WithError(err).Error("scrape failed")
		fatal("scrape failed", err)
	}

	scrapedDir, _ := wf.Dir("step1_scraped")
	fmt.Printf("Scrape complete. Posts saved under %s\n", scrapedDir)
	if scrapeDownload {
		imagesDir, _ := wf.Dir("step1_images")
		fmt.Printf("Images saved under %s\n", imagesDir)
	}
}

// overrideDir redirects one stage output directory when the user asked for a
// custom location.
func overrideDir(wf *workflow.Config, key, dir string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fatal(fmt.Sprintf("failed to create %s", dir), err)
	}
	wf.Directories[key] = dir
}
