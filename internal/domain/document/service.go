package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/blobstore"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

type Service struct {
	repo   Repository
	blobs  blobstore.Store
	logger zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, logger: logger}
}

// normalizeContentType drops parameters such as charset.
func normalizeContentType(ct string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, ct)
	}
	if !lo.Contains(allowedContentTypes, mediaType) {
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, mediaType)
	}
	return mediaType, nil
}

func storageKey(ctx context.Context, id uuid.UUID) string {
	clinic := db.ClinicFromContext(ctx)
	if clinic == "" {
		clinic = "default"
	}
	return clinic + "/" + id.String()
}

// Upload stores content in the blob store and records its metadata. The blob
// is removed again when the metadata cannot be saved.
func (s *Service) Upload(ctx context.Context, d *Document, content io.Reader) error {
	if d.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if d.Category == "" {
		d.Category = CategoryOther
	}
	if !validCategories[d.Category] {
		return fmt.Errorf("invalid category: %q", d.Category)
	}
	d.FileName = filepath.Base(strings.TrimSpace(d.FileName))
	if d.FileName == "" || d.FileName == "." || d.FileName == "/" {
		return fmt.Errorf("file_name is required")
	}
	ct, err := normalizeContentType(d.ContentType)
	if err != nil {
		return err
	}
	d.ContentType = ct

	d.ID = uuid.New()
	d.StorageKey = storageKey(ctx, d.ID)
	obj, err := s.blobs.Put(ctx, d.StorageKey, content)
	if err != nil {
		return err
	}
	d.SizeBytes, d.SHA256 = obj.Size, obj.Hash

	if err := s.repo.Create(ctx, d); err != nil {
		if delErr := s.blobs.Delete(ctx, d.StorageKey); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", d.StorageKey).Msg("remove orphaned blob")
		}
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

// Open returns the metadata and content of a document. The caller closes the
// reader.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*Document, io.ReadCloser, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, d.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", d.StorageKey, err)
	}
	return d, rc, nil
}

// Delete removes the record first so a blob failure leaves no dangling
// metadata.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, d.StorageKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("key", d.StorageKey).Msg("delete blob")
	}
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, category string, limit, offset int) ([]*Document, int, error) {
	if category != "" && !validCategories[category] {
		return nil, 0, fmt.Errorf("invalid category: %q", category)
	}
	return s.repo.ListByPatient(ctx, patientID, category, limit, offset)
}
