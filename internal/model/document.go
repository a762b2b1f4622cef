package model

import "time"

// Document records one ingested file. The text itself lives in the vector
// index as point payloads; this row only keeps the identity and counts.
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:36;not null;index" json:"session_id"`
	SourceID   string    `gorm:"size:512;not null" json:"source_id"`
	Name       string    `gorm:"size:256;not null" json:"name"`
	PageCount  int       `json:"page_count"`
	ChunkCount int       `json:"chunk_count"`
	PointCount int       `json:"point_count"`
	CreatedAt  time.Time `json:"created_at"`
}
