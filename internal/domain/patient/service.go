package patient

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	mrnAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	mrnSuffix   = 6
	mrnAttempts = 3

	// Bytes at or above mrnLimit are redrawn so every symbol is equally likely.
	mrnLimit = 256 - 256%len(mrnAlphabet)
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

// NewMRN returns MRN-YYYYMMDD-XXXXXX for the registration date.
func NewMRN(at time.Time) (string, error) {
	suffix, err := mrnSuffixFrom(rand.Reader)
	if err != nil {
		return "", err
	}
	return "MRN-" + at.Format("20060102") + "-" + suffix, nil
}

func mrnSuffixFrom(r io.Reader) (string, error) {
	out := make([]byte, 0, mrnSuffix)
	buf := make([]byte, mrnSuffix)
	for len(out) < mrnSuffix {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("generate mrn: %w", err)
		}
		for _, b := range buf {
			if int(b) >= mrnLimit {
				continue
			}
			out = append(out, mrnAlphabet[int(b)%len(mrnAlphabet)])
			if len(out) == mrnSuffix {
				break
			}
		}
	}
	return string(out), nil
}

func (s *Service) validate(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if p.Gender != nil && !validGenders[*p.Gender] {
		return fmt.Errorf("invalid gender: %s", *p.Gender)
	}
	if p.BloodGroup != nil && !validBloodGroups[*p.BloodGroup] {
		return fmt.Errorf("invalid blood_group: %s", *p.BloodGroup)
	}
	if p.BirthDate != nil && p.BirthDate.After(s.clock.Now()) {
		return fmt.Errorf("birth_date cannot be in the future")
	}
	return nil
}

// Register creates a patient, generating an MRN when none was supplied.
// Generated MRNs are retried on collision; a supplied duplicate is an error.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	p.Active = true

	if p.MRN = strings.TrimSpace(p.MRN); p.MRN != "" {
		return s.repo.Create(ctx, p)
	}

	for attempt := 0; attempt < mrnAttempts; attempt++ {
		mrn, err := NewMRN(s.clock.Now())
		if err != nil {
			return err
		}
		p.MRN = mrn
		err = s.repo.Create(ctx, p)
		if !errors.Is(err, ErrDuplicateMRN) {
			return err
		}
	}
	return ErrDuplicateMRN
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.repo.GetByMRN(ctx, mrn)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

// Deactivate hides a patient from active lists without deleting history.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetActive(ctx, id, false)
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetActive(ctx, id, true)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
