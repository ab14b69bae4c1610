package consent

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type Service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{repo: repo, clock: clk}
}

// Create stores a pending form for the patient to sign.
func (s *Service) Create(ctx context.Context, f *Form) error {
	if f.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if !validCategories[f.Category] {
		return fmt.Errorf("invalid category: %q", f.Category)
	}
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(f.Body) == "" {
		return fmt.Errorf("body is required")
	}
	f.Status = StatusPending
	f.SignerName, f.SignedAt, f.SignatureDocumentID = nil, nil, nil
	f.RevokedAt, f.RevocationReason = nil, nil
	return s.repo.Create(ctx, f)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Form, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, category string) ([]*Form, error) {
	if category != "" && !validCategories[category] {
		return nil, fmt.Errorf("invalid category: %q", category)
	}
	forms, err := s.repo.ListByPatient(ctx, patientID, category)
	if err != nil {
		return nil, err
	}
	if forms == nil {
		forms = []*Form{}
	}
	return forms, nil
}

func (s *Service) Sign(ctx context.Context, id uuid.UUID, sig Signature) (*Form, error) {
	name := strings.TrimSpace(sig.SignerName)
	if name == "" {
		return nil, fmt.Errorf("signer_name is required")
	}
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot sign a %s consent", ErrInvalidTransition, f.Status)
	}
	now := s.clock.Now()
	f.Status = StatusSigned
	f.SignerName = &name
	f.SignedAt = &now
	f.SignatureDocumentID = sig.SignatureDocumentID
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) Revoke(ctx context.Context, id uuid.UUID, reason string) (*Form, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Status != StatusSigned {
		return nil, fmt.Errorf("%w: only signed consents can be revoked", ErrInvalidTransition)
	}
	now := s.clock.Now()
	f.Status = StatusRevoked
	f.RevokedAt = &now
	if reason = strings.TrimSpace(reason); reason != "" {
		f.RevocationReason = &reason
	}
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// HasSignedConsent reports whether the patient holds a signed form of category.
func (s *Service) HasSignedConsent(ctx context.Context, patientID uuid.UUID, category string) (bool, error) {
	return s.repo.HasSigned(ctx, patientID, category)
}

// Require returns ErrConsentRequired unless a signed form of category exists.
func (s *Service) Require(ctx context.Context, patientID uuid.UUID, category string) error {
	ok, err := s.HasSignedConsent(ctx, patientID, category)
	if err != nil {
		return fmt.Errorf("check %s consent: %w", category, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrConsentRequired, category)
	}
	return nil
}
