// Package storage provides file management for downloaded post images.
//
// The storage package handles:
//   - Creating and managing a run's images directory
//   - Saving images with atomic write operations
//   - Detecting duplicate downloads by {postID}_{index} naming
//   - Thread-safe file operations
//
// The Manager type is the primary interface for storage operations. It
// maintains an in-memory cache of downloaded files for fast duplicate
// detection and writes through temporary files to prevent corruption.
//
// Usage:
//
//	manager, err := storage.NewManager(imagesDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !manager.IsDownloaded("abc123", 0) {
//	    err = manager.SaveImage(imageReader, "abc123", 0)
//	    if err != nil {
//	        log.Printf("Failed to save image: %v", err)
//	    }
//	}
package storage
