// Package models defines the data structures returned by the Xiaohongshu
// Apify actor and helpers for normalizing its loosely typed fields.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Post is one dataset item from the actor. The payload nests the note under
// item.note_card.
type Post struct {
	Item Item `json:"item"`
}

// Item wraps the note card with its post ID and model type.
type Item struct {
	ID        string    `json:"id"`
	ModelType string    `json:"model_type,omitempty"`
	NoteCard  *NoteCard `json:"note_card,omitempty"`
}

// NoteCard is the note content: title, description, author, engagement
// counters and the image list.
type NoteCard struct {
	DisplayTitle string        `json:"display_title,omitempty"`
	Title        string        `json:"title,omitempty"`
	Desc         string        `json:"desc,omitempty"`
	Type         string        `json:"type,omitempty"`
	User         *User         `json:"user,omitempty"`
	InteractInfo *InteractInfo `json:"interact_info,omitempty"`
	ImageList    []ImageEntry  `json:"image_list,omitempty"`
	Cover        *Cover        `json:"cover,omitempty"`
}

// User is the note author.
type User struct {
	UserID   string `json:"user_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// InteractInfo carries engagement counters. The actor returns these as
// strings, numbers, or occasionally nothing at all, so they stay raw here
// and go through CoerceCount at the point of use.
type InteractInfo struct {
	LikedCount     any `json:"liked_count,omitempty"`
	CollectedCount any `json:"collected_count,omitempty"`
	CommentCount   any `json:"comment_count,omitempty"`
	SharedCount    any `json:"shared_count,omitempty"`
}

// ImageEntry is one image slot in a note, with per-scene renditions.
type ImageEntry struct {
	InfoList []ImageInfo `json:"info_list,omitempty"`
}

// ImageInfo is a single rendition of an image.
type ImageInfo struct {
	ImageScene string `json:"image_scene,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Cover is the fallback image for notes without an image list.
type Cover struct {
	URLDefault string `json:"url_default,omitempty"`
}

// sceneDefault is the rendition preferred when extracting image URLs.
const sceneDefault = "WB_DFT"

// Title returns the note title, preferring display_title.
func (n *NoteCard) GetTitle() string {
	if n == nil {
		return ""
	}
	if n.DisplayTitle != "" {
		return n.DisplayTitle
	}
	return n.Title
}

// CoerceCount normalizes an engagement counter to an int. Digit strings
// (with optional comma separators) and JSON numbers convert; everything
// else is zero.
func CoerceCount(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return n
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		if f, err := x.Float64(); err == nil {
			return int(f)
		}
		return 0
	default:
		return 0
	}
}

// ImageRef identifies one downloadable image: its URL plus the post ID and
// slot index that determine its filename on disk.
type ImageRef struct {
	URL    string
	PostID string
	Index  int
	Title  string
}

// ExtractImageURLs walks posts and collects one URL per image slot,
// preferring the default-scene rendition. Posts without a note card or
// image list contribute nothing.
func ExtractImageURLs(posts []Post) []ImageRef {
	var refs []ImageRef

	for _, post := range posts {
		note := post.Item.NoteCard
		if note == nil {
			continue
		}

		title := note.GetTitle()
		if title == "" {
			title = "untitled"
		}
		if r := []rune(title); len(r) > 50 {
			title = string(r[:50])
		}

		postID := post.Item.ID
		if postID == "" {
			postID = "unknown"
		}

		for idx, entry := range post.Item.NoteCard.ImageList {
			for _, info := range entry.InfoList {
				if info.URL != "" && info.ImageScene == sceneDefault {
					refs = append(refs, ImageRef{
						URL:    info.URL,
						PostID: postID,
						Index:  idx,
						Title:  title,
					})
					break
				}
			}
		}
	}

	return refs
}

// Statistics summarizes a scrape result set.
type Statistics struct {
	TotalPosts  int
	TotalImages int
	TotalLikes  int
}

// ComputeStatistics tallies post, image and like counts across a result set.
func ComputeStatistics(posts []Post) Statistics {
	stats := Statistics{TotalPosts: len(posts)}

	for _, post := range posts {
		note := post.Item.NoteCard
		if note == nil {
			continue
		}
		stats.TotalImages += len(note.ImageList)
		if note.InteractInfo != nil {
			stats.TotalLikes += CoerceCount(note.InteractInfo.LikedCount)
		}
	}

	return stats
}
