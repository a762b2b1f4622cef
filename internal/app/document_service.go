package app

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"docchat/internal/model"
	"docchat/internal/pkg/pdfextract"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
)

// IngestRetriever is the slice of the retrieval orchestrator the document
// service needs.
type IngestRetriever interface {
	Ingest(ctx context.Context, sessionID, sourceID string, pages []retrieval.Page) (retrieval.IngestStats, error)
}

type DocumentService struct {
	sessionRepo *repository.ChatSessionRepository
	docRepo     *repository.DocumentRepository
	retriever   IngestRetriever
	log         *zap.Logger
}

func NewDocumentService(
	sessionRepo *repository.ChatSessionRepository,
	docRepo *repository.DocumentRepository,
	retriever IngestRetriever,
	log *zap.Logger,
) *DocumentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentService{
		sessionRepo: sessionRepo,
		docRepo:     docRepo,
		retriever:   retriever,
		log:         log,
	}
}

type UploadInput struct {
	SessionID string
	Filename  string
	Data      []byte
}

type UploadResult struct {
	Document model.Document        `json:"document"`
	Stats    retrieval.IngestStats `json:"stats"`
}

// Upload extracts pages from the file, indexes them under the session and
// records the document. PDF files are split per physical page; plain text
// becomes a single synthetic page.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if input.SessionID == "" || len(input.Data) == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByID(input.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	name := strings.TrimSpace(input.Filename)
	if name == "" {
		name = "untitled"
	}

	var pages []retrieval.Page
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		pages, err = pdfextract.ExtractPDFPages(input.Data)
		if err != nil {
			return nil, err
		}
	case ".txt":
		pages = pdfextract.ExtractTextPage(input.Data)
	default:
		return nil, ErrUnsupportedFile
	}
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}

	sourceID := pdfextract.SourceID(name, input.Data)
	stats, err := s.retriever.Ingest(ctx, input.SessionID, sourceID, pages)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		SessionID:  input.SessionID,
		SourceID:   sourceID,
		Name:       name,
		PageCount:  len(pages),
		ChunkCount: stats.Chunks,
		PointCount: stats.Points,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, err
	}

	s.log.Info("document uploaded",
		zap.String("session_id", input.SessionID),
		zap.String("source_id", sourceID),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", stats.Chunks))
	return &UploadResult{Document: *doc, Stats: stats}, nil
}

func (s *DocumentService) List(sessionID string) ([]model.Document, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListBySessionID(sessionID)
}
