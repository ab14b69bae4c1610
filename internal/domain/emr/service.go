package emr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const chartRecentNotes = 5

type Service struct {
	notes       NoteRepository
	vitals      VitalsRepository
	medications MedicationRepository
	allergies   AllergyRepository
	clock       clock.Clock
}

func NewService(
	notes NoteRepository,
	vitals VitalsRepository,
	medications MedicationRepository,
	allergies AllergyRepository,
	clk clock.Clock,
) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		notes:       notes,
		vitals:      vitals,
		medications: medications,
		allergies:   allergies,
		clock:       clk,
	}
}

// -- Clinical Notes --

func (s *Service) CreateNote(ctx context.Context, n *ClinicalNote) error {
	if n.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if n.AuthorID == "" {
		return fmt.Errorf("author_id is required")
	}
	if !validNoteTypes[n.NoteType] {
		return fmt.Errorf("invalid note_type: %q", n.NoteType)
	}
	n.Status = NoteDraft
	n.SignedBy, n.SignedAt = nil, nil
	n.AmendmentReason, n.AmendedAt = nil, nil
	return s.notes.Create(ctx, n)
}

func (s *Service) GetNote(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return s.notes.GetByID(ctx, id)
}

func (s *Service) ListNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error) {
	return s.notes.ListByPatient(ctx, patientID, limit, offset)
}

// UpdateNote replaces the SOAP content of a draft note.
func (s *Service) UpdateNote(ctx context.Context, id uuid.UUID, content *ClinicalNote) (*ClinicalNote, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != NoteDraft {
		return nil, ErrNoteLocked
	}
	copySOAP(n, content)
	if err := s.notes.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// SignNote locks a draft. Empty notes cannot be signed.
func (s *Service) SignNote(ctx context.Context, id uuid.UUID, signer string) (*ClinicalNote, error) {
	if signer == "" {
		return nil, fmt.Errorf("signer is required")
	}
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != NoteDraft {
		return nil, fmt.Errorf("%w: note is %s", ErrInvalidTransition, n.Status)
	}
	if n.empty() {
		return nil, fmt.Errorf("cannot sign an empty note")
	}
	now := s.clock.Now()
	n.Status = NoteSigned
	n.SignedBy = &signer
	n.SignedAt = &now
	if err := s.notes.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// AmendNote changes a signed note's content and records why.
func (s *Service) AmendNote(ctx context.Context, id uuid.UUID, content *ClinicalNote, reason string) (*ClinicalNote, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("amendment reason is required")
	}
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != NoteSigned && n.Status != NoteAmended {
		return nil, fmt.Errorf("%w: only signed notes can be amended", ErrInvalidTransition)
	}
	copySOAP(n, content)
	now := s.clock.Now()
	n.Status = NoteAmended
	n.AmendmentReason = &reason
	n.AmendedAt = &now
	if err := s.notes.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func copySOAP(dst, src *ClinicalNote) {
	dst.Subjective = src.Subjective
	dst.Objective = src.Objective
	dst.Assessment = src.Assessment
	dst.Plan = src.Plan
}

// -- Vital Signs --

type floatRange struct{ min, max float64 }

var (
	temperatureRange = floatRange{30, 45}
	weightRange      = floatRange{0.2, 500}
	heightRange      = floatRange{20, 280}
)

type intRange struct{ min, max int }

var (
	pulseRange       = intRange{20, 250}
	systolicRange    = intRange{50, 300}
	diastolicRange   = intRange{20, 200}
	respiratoryRange = intRange{4, 80}
	spo2Range        = intRange{50, 100}
)

func checkFloat(name string, v *float64, r floatRange) error {
	if v != nil && (*v < r.min || *v > r.max) {
		return fmt.Errorf("%s %.1f outside plausible range %.1f-%.1f", name, *v, r.min, r.max)
	}
	return nil
}

func checkInt(name string, v *int, r intRange) error {
	if v != nil && (*v < r.min || *v > r.max) {
		return fmt.Errorf("%s %d outside plausible range %d-%d", name, *v, r.min, r.max)
	}
	return nil
}

// ValidateVitals rejects physiologically implausible readings.
func ValidateVitals(v *VitalSigns) error {
	if v.TemperatureC == nil && v.Pulse == nil && v.Systolic == nil && v.Diastolic == nil &&
		v.RespiratoryRate == nil && v.SpO2 == nil && v.WeightKg == nil && v.HeightCm == nil {
		return fmt.Errorf("at least one measurement is required")
	}
	checks := []error{
		checkFloat("temperature_c", v.TemperatureC, temperatureRange),
		checkFloat("weight_kg", v.WeightKg, weightRange),
		checkFloat("height_cm", v.HeightCm, heightRange),
		checkInt("pulse", v.Pulse, pulseRange),
		checkInt("systolic", v.Systolic, systolicRange),
		checkInt("diastolic", v.Diastolic, diastolicRange),
		checkInt("respiratory_rate", v.RespiratoryRate, respiratoryRange),
		checkInt("spo2", v.SpO2, spo2Range),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if (v.Systolic == nil) != (v.Diastolic == nil) {
		return fmt.Errorf("systolic and diastolic must be recorded together")
	}
	if v.Systolic != nil && *v.Diastolic >= *v.Systolic {
		return fmt.Errorf("diastolic must be lower than systolic")
	}
	return nil
}

func (s *Service) RecordVitals(ctx context.Context, v *VitalSigns) error {
	if v.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if err := ValidateVitals(v); err != nil {
		return err
	}
	now := s.clock.Now()
	if v.RecordedAt.IsZero() {
		v.RecordedAt = now
	}
	if v.RecordedAt.After(now.Add(5 * time.Minute)) {
		return fmt.Errorf("recorded_at cannot be in the future")
	}
	v.BMI = nil
	if v.WeightKg != nil && v.HeightCm != nil {
		bmi := ComputeBMI(*v.WeightKg, *v.HeightCm)
		v.BMI = &bmi
	}
	return s.vitals.Create(ctx, v)
}

func (s *Service) ListVitals(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSigns, int, error) {
	return s.vitals.ListByPatient(ctx, patientID, limit, offset)
}

// -- Medications --

func (s *Service) Prescribe(ctx context.Context, m *Medication) error {
	if m.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if m.Name = strings.TrimSpace(m.Name); m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
		return fmt.Errorf("end_date must not be before start_date")
	}
	m.Status = MedicationActive
	return s.medications.Create(ctx, m)
}

func (s *Service) ListMedications(ctx context.Context, patientID uuid.UUID, status string) ([]*Medication, error) {
	if status != "" && !validMedicationStatuses[status] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	return s.medications.ListByPatient(ctx, patientID, status)
}

// SetMedicationStatus completes or stops an active medication.
func (s *Service) SetMedicationStatus(ctx context.Context, id uuid.UUID, status string) (*Medication, error) {
	if status != MedicationCompleted && status != MedicationStopped {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	m, err := s.medications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != MedicationActive {
		return nil, fmt.Errorf("%w: medication is %s", ErrInvalidTransition, m.Status)
	}
	m.Status = status
	if m.EndDate == nil {
		today := s.clock.Now().Truncate(24 * time.Hour)
		m.EndDate = &today
	}
	if err := s.medications.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// -- Allergies --

func (s *Service) RecordAllergy(ctx context.Context, a *Allergy) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.Substance = strings.TrimSpace(a.Substance); a.Substance == "" {
		return fmt.Errorf("substance is required")
	}
	if !validSeverities[a.Severity] {
		return fmt.Errorf("invalid severity: %q", a.Severity)
	}
	a.Status = AllergyActive

	active, err := s.allergies.ListByPatient(ctx, a.PatientID, AllergyActive)
	if err != nil {
		return err
	}
	for _, existing := range active {
		if strings.EqualFold(existing.Substance, a.Substance) {
			return ErrDuplicateAllergy
		}
	}
	return s.allergies.Create(ctx, a)
}

func (s *Service) ListAllergies(ctx context.Context, patientID uuid.UUID, status string) ([]*Allergy, error) {
	if status != "" && !validAllergyStatuses[status] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	return s.allergies.ListByPatient(ctx, patientID, status)
}

// UpdateAllergy changes reaction, severity or status. Reactivating an allergy
// is subject to the same duplicate rule as recording one.
func (s *Service) UpdateAllergy(ctx context.Context, id uuid.UUID, upd *Allergy) (*Allergy, error) {
	a, err := s.allergies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Severity != "" {
		if !validSeverities[upd.Severity] {
			return nil, fmt.Errorf("invalid severity: %q", upd.Severity)
		}
		a.Severity = upd.Severity
	}
	if upd.Status != "" {
		if !validAllergyStatuses[upd.Status] {
			return nil, fmt.Errorf("invalid status: %q", upd.Status)
		}
		if upd.Status == AllergyActive && a.Status != AllergyActive {
			active, err := s.allergies.ListByPatient(ctx, a.PatientID, AllergyActive)
			if err != nil {
				return nil, err
			}
			for _, existing := range active {
				if strings.EqualFold(existing.Substance, a.Substance) {
					return nil, ErrDuplicateAllergy
				}
			}
		}
		a.Status = upd.Status
	}
	if upd.Reaction != nil {
		a.Reaction = upd.Reaction
	}
	if err := s.allergies.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// -- Chart --

// Chart reads sequentially; a clinic-scoped connection cannot run queries
// concurrently.
func (s *Service) Chart(ctx context.Context, patientID uuid.UUID) (*Chart, error) {
	chart := &Chart{PatientID: patientID}

	vitals, _, err := s.vitals.ListByPatient(ctx, patientID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("latest vitals: %w", err)
	}
	if len(vitals) > 0 {
		chart.LatestVitals = vitals[0]
	}

	if chart.ActiveMedications, err = s.medications.ListByPatient(ctx, patientID, MedicationActive); err != nil {
		return nil, fmt.Errorf("active medications: %w", err)
	}
	if chart.ActiveAllergies, err = s.allergies.ListByPatient(ctx, patientID, AllergyActive); err != nil {
		return nil, fmt.Errorf("active allergies: %w", err)
	}
	if chart.RecentNotes, _, err = s.notes.ListByPatient(ctx, patientID, chartRecentNotes, 0); err != nil {
		return nil, fmt.Errorf("recent notes: %w", err)
	}

	if chart.ActiveMedications == nil {
		chart.ActiveMedications = []*Medication{}
	}
	if chart.ActiveAllergies == nil {
		chart.ActiveAllergies = []*Allergy{}
	}
	if chart.RecentNotes == nil {
		chart.RecentNotes = []*ClinicalNote{}
	}
	return chart, nil
}
