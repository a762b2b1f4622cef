package model

import (
	"encoding/json"
	"time"

	"docchat/internal/retrieval"
)

// ChatMessage is one turn of a session's conversation. Assistant messages
// carry the citations backing the answer, stored as a JSON column.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:36;not null;index" json:"session_id"`
	Role      string    `gorm:"size:16;not null;index" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Citations string    `gorm:"type:text" json:"-"` // JSON array of retrieval.Citation
	CreatedAt time.Time `json:"created_at"`
}

// SetCitations stores the citation list as JSON.
func (m *ChatMessage) SetCitations(citations []retrieval.Citation) {
	if len(citations) == 0 {
		m.Citations = ""
		return
	}
	b, _ := json.Marshal(citations)
	m.Citations = string(b)
}

// CitationList returns the parsed citations; empty on parse error.
func (m *ChatMessage) CitationList() []retrieval.Citation {
	if m.Citations == "" {
		return nil
	}
	var citations []retrieval.Citation
	_ = json.Unmarshal([]byte(m.Citations), &citations)
	return citations
}
