package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/blobstore"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

type mockRepo struct {
	docs    map[uuid.UUID]*Document
	failAdd bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{docs: make(map[uuid.UUID]*Document)}
}

func (m *mockRepo) Create(_ context.Context, d *Document) error {
	if m.failAdd {
		return errors.New("insert failed")
	}
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Document, error) {
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, category string, limit, offset int) ([]*Document, int, error) {
	var out []*Document
	for _, d := range m.docs {
		if d.PatientID == patientID && (category == "" || d.Category == category) {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockRepo, *blobstore.MemoryStore) {
	repo, blobs := newMockRepo(), blobstore.NewMemoryStore()
	return NewService(repo, blobs, zerolog.Nop()), repo, blobs
}

func TestUpload_StoresBlobAndMetadata(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := db.WithClinic(context.Background(), "north")

	d := &Document{
		PatientID:   uuid.New(),
		Category:    CategoryLabResult,
		FileName:    "../../etc/cbc.pdf",
		ContentType: "application/pdf; charset=binary",
	}
	if err := svc.Upload(ctx, d, strings.NewReader("%PDF-1.7 results")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if d.FileName != "cbc.pdf" || d.ContentType != "application/pdf" {
		t.Errorf("expected sanitised name and type, got %q %q", d.FileName, d.ContentType)
	}
	if d.StorageKey != "north/"+d.ID.String() {
		t.Errorf("unexpected storage key %q", d.StorageKey)
	}
	if d.SizeBytes != 16 || len(d.SHA256) != 64 {
		t.Errorf("unexpected size/hash: %d %q", d.SizeBytes, d.SHA256)
	}

	got, rc, err := svc.Open(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "%PDF-1.7 results" || got.ID != d.ID {
		t.Errorf("unexpected download: %q", body)
	}
}

func TestUpload_Rejects(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	pid := uuid.New()

	if err := svc.Upload(ctx, &Document{PatientID: pid, FileName: "a.exe", ContentType: "application/x-msdownload"}, strings.NewReader("x")); !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
	if err := svc.Upload(ctx, &Document{PatientID: pid, FileName: "a.png", ContentType: "image/png", Category: "selfie"}, strings.NewReader("x")); err == nil {
		t.Error("expected error for unknown category")
	}
	if err := svc.Upload(ctx, &Document{FileName: "a.png", ContentType: "image/png"}, strings.NewReader("x")); err == nil {
		t.Error("expected error without patient")
	}
	if err := svc.Upload(ctx, &Document{PatientID: pid, ContentType: "image/png"}, strings.NewReader("x")); err == nil {
		t.Error("expected error without file name")
	}
}

func TestUpload_RemovesBlobWhenInsertFails(t *testing.T) {
	svc, repo, blobs := newTestService()
	repo.failAdd = true
	d := &Document{PatientID: uuid.New(), FileName: "x.txt", ContentType: "text/plain"}

	if err := svc.Upload(context.Background(), d, bytes.NewReader([]byte("hello"))); err == nil {
		t.Fatal("expected insert error")
	}
	if _, err := blobs.Open(context.Background(), d.StorageKey); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected orphaned blob removed, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, _, blobs := newTestService()
	ctx := context.Background()
	d := &Document{PatientID: uuid.New(), FileName: "x.txt", ContentType: "text/plain"}
	if err := svc.Upload(ctx, d, strings.NewReader("hello")); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected metadata gone, got %v", err)
	}
	if _, err := blobs.Open(ctx, d.StorageKey); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected blob gone, got %v", err)
	}
	if err := svc.Delete(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListByPatient(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	pid := uuid.New()
	for _, cat := range []string{CategoryImaging, CategoryImaging, CategoryReferral} {
		d := &Document{PatientID: pid, Category: cat, FileName: "f.png", ContentType: "image/png"}
		if err := svc.Upload(ctx, d, strings.NewReader("png")); err != nil {
			t.Fatal(err)
		}
	}

	_, total, err := svc.ListByPatient(ctx, pid, CategoryImaging, 20, 0)
	if err != nil || total != 2 {
		t.Errorf("expected 2 imaging documents, got %d, %v", total, err)
	}
	if _, _, err := svc.ListByPatient(ctx, pid, "nope", 20, 0); err == nil {
		t.Error("expected error for unknown category")
	}
}
