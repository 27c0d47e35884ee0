package models

import "time"

// DocInfo describes the documentation tree currently published for a
// project.
type DocInfo struct {
	SHA256      string    `json:"sha256"`
	Files       int       `json:"files"`
	PublishedAt time.Time `json:"published_at"`
}
