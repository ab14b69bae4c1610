package patient

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type mockRepo struct {
	patients map[uuid.UUID]*Patient
	// collisions makes the next n creates fail with ErrDuplicateMRN.
	collisions int
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	if m.collisions > 0 {
		m.collisions--
		return ErrDuplicateMRN
	}
	for _, existing := range m.patients {
		if existing.MRN == p.MRN {
			return ErrDuplicateMRN
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) GetByMRN(_ context.Context, mrn string) (*Patient, error) {
	for _, p := range m.patients {
		if p.MRN == mrn {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	existing, ok := m.patients[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.MRN = existing.MRN
	p.Active = existing.Active
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	p, ok := m.patients[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	return nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		if name := strings.ToLower(params["name"]); name != "" &&
			!strings.HasPrefix(strings.ToLower(p.FirstName), name) &&
			!strings.HasPrefix(strings.ToLower(p.LastName), name) {
			continue
		}
		if params["active"] == "true" && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	return NewService(repo, clk), repo
}

var mrnPattern = regexp.MustCompile(`^MRN-\d{8}-[A-Z0-9]{6}$`)

func TestNewMRN_Format(t *testing.T) {
	at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		mrn, err := NewMRN(at)
		if err != nil {
			t.Fatalf("NewMRN: %v", err)
		}
		if !mrnPattern.MatchString(mrn) {
			t.Fatalf("unexpected mrn format: %s", mrn)
		}
		if !strings.HasPrefix(mrn, "MRN-20240315-") {
			t.Fatalf("mrn should carry the registration date: %s", mrn)
		}
		seen[mrn] = true
	}
	if len(seen) < 45 {
		t.Errorf("expected mostly unique MRNs, got %d distinct of 50", len(seen))
	}
}

func TestMRNSuffix_RedrawsBiasedBytes(t *testing.T) {
	// 252..255 would favour A-D under a plain modulo and must be skipped.
	src := bytes.NewReader([]byte{
		252, 255, 0, 35, 36, 71,
		253, 1, 2, 3, 4, 5,
	})
	got, err := mrnSuffixFrom(src)
	if err != nil {
		t.Fatal(err)
	}
	if got != "A9A9BC" {
		t.Errorf("suffix = %q, want A9A9BC", got)
	}

	if _, err := mrnSuffixFrom(bytes.NewReader([]byte{255, 255, 255, 255, 255, 255})); err == nil {
		t.Error("expected error once the source runs dry")
	}
}

func TestMRNSuffix_Uniform(t *testing.T) {
	// Every byte value once: each symbol must be drawn exactly seven times.
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	src := bytes.NewReader(all)

	counts := make(map[byte]int)
	for i := 0; i < 42; i++ {
		s, err := mrnSuffixFrom(src)
		if err != nil {
			t.Fatal(err)
		}
		for j := 0; j < len(s); j++ {
			counts[s[j]]++
		}
	}
	for i := 0; i < len(mrnAlphabet); i++ {
		if n := counts[mrnAlphabet[i]]; n != 7 {
			t.Errorf("symbol %c drawn %d times, want 7", mrnAlphabet[i], n)
		}
	}
}

func TestRegister_GeneratesMRN(t *testing.T) {
	svc, _ := newTestService()
	p := &Patient{FirstName: "Abebe", LastName: "Kebede"}
	if err := svc.Register(context.Background(), p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.HasPrefix(p.MRN, "MRN-20240315-") {
		t.Errorf("unexpected mrn: %s", p.MRN)
	}
	if !p.Active {
		t.Error("new patients should be active")
	}
}

func TestRegister_RetriesGeneratedCollision(t *testing.T) {
	svc, repo := newTestService()
	repo.collisions = 2
	p := &Patient{FirstName: "Abebe", LastName: "Kebede"}
	if err := svc.Register(context.Background(), p); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	repo.collisions = mrnAttempts
	q := &Patient{FirstName: "Almaz", LastName: "Tesfaye"}
	if err := svc.Register(context.Background(), q); err != ErrDuplicateMRN {
		t.Fatalf("expected ErrDuplicateMRN after exhausting attempts, got %v", err)
	}
}

func TestRegister_DuplicateSuppliedMRN(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if err := svc.Register(ctx, &Patient{MRN: "LEGACY-1", FirstName: "A", LastName: "B"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := svc.Register(ctx, &Patient{MRN: "LEGACY-1", FirstName: "C", LastName: "D"})
	if err != ErrDuplicateMRN {
		t.Fatalf("expected ErrDuplicateMRN, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService()
	future := time.Now().Add(48 * time.Hour)
	bad := "X+"
	gender := "robot"

	tests := []struct {
		name string
		p    *Patient
	}{
		{"missing first name", &Patient{LastName: "B"}},
		{"blank last name", &Patient{FirstName: "A", LastName: "   "}},
		{"future birth date", &Patient{FirstName: "A", LastName: "B", BirthDate: &future}},
		{"bad blood group", &Patient{FirstName: "A", LastName: "B", BloodGroup: &bad}},
		{"bad gender", &Patient{FirstName: "A", LastName: "B", Gender: &gender}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Register(context.Background(), tt.p); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestUpdate_KeepsMRN(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := &Patient{FirstName: "Abebe", LastName: "Kebede"}
	_ = svc.Register(ctx, p)

	upd := &Patient{ID: p.ID, MRN: "SHOULD-NOT-STICK", FirstName: "Abebe", LastName: "Bekele"}
	if err := svc.Update(ctx, upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if upd.MRN != p.MRN {
		t.Errorf("MRN changed on update: %s", upd.MRN)
	}

	if err := svc.Update(ctx, &Patient{ID: p.ID, FirstName: "", LastName: "X"}); err == nil {
		t.Error("expected error when names are missing")
	}
}

func TestDeactivate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := &Patient{FirstName: "Abebe", LastName: "Kebede"}
	_ = svc.Register(ctx, p)

	if err := svc.Deactivate(ctx, p.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, _ := svc.Get(ctx, p.ID)
	if got.Active {
		t.Error("expected patient to be inactive")
	}

	items, total, _ := svc.Search(ctx, map[string]string{"active": "true"}, 20, 0)
	if total != 0 || len(items) != 0 {
		t.Errorf("inactive patient should not be listed, got %d", total)
	}

	if err := svc.Deactivate(ctx, uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
