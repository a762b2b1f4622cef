package model

import "time"

// ChatSession is one anonymous conversation. Its ID doubles as the partition
// key for every point in the vector index.
type ChatSession struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:128;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
