package journal

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/matt-g-everett/logger/pkg/ota"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_BeginAndGet(t *testing.T) {
	repo := newTestRepository(t)

	e := &Entry{SessionID: "s-1", Software: "logger", Version: "1.2.0", Channel: "ota/upd", Checksum: "0d4a1185"}
	if err := repo.Begin(e); err != nil {
		t.Fatalf("failed to begin session: %v", err)
	}
	if e.ID == 0 {
		t.Error("expected id to be assigned")
	}

	got, err := repo.GetBySession("s-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Channel != "ota/upd" || got.Status != StatusDownloading || got.FinishedAt != "" {
		t.Errorf("unexpected entry: %+v", got)
	}

	missing, err := repo.GetBySession("nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil entry for unknown session, got %+v, %v", missing, err)
	}
}

func TestRepository_Finish(t *testing.T) {
	repo := newTestRepository(t)

	repo.Begin(&Entry{SessionID: "s-1", Software: "logger", Version: "1.2.0", Channel: "c", Checksum: "00000000"})

	if err := repo.Finish("s-1", StatusIntegrityFailed, "ota_1", 4096, "checksum mismatch"); err != nil {
		t.Fatalf("failed to finish session: %v", err)
	}

	got, _ := repo.GetBySession("s-1")
	if got.Status != StatusIntegrityFailed || got.BytesWritten != 4096 || got.Partition != "ota_1" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.FinishedAt == "" {
		t.Error("finished_at not set")
	}

	if err := repo.Finish("unknown", StatusAborted, "", 0, ""); err == nil {
		t.Error("expected error for unknown session")
	}
	if err := repo.Finish("s-1", "exploded", "", 0, ""); err == nil {
		t.Error("expected status constraint violation")
	}
}

func TestRepository_List(t *testing.T) {
	repo := newTestRepository(t)

	for i := 1; i <= 3; i++ {
		repo.Begin(&Entry{SessionID: fmt.Sprintf("s-%d", i), Software: "logger", Version: "1.0.0", Channel: "c", Checksum: "0"})
	}

	entries, err := repo.List(0)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].SessionID != "s-3" {
		t.Errorf("expected newest first, got %s", entries[0].SessionID)
	}

	limited, _ := repo.List(2)
	if len(limited) != 2 {
		t.Errorf("expected 2 entries, got %d", len(limited))
	}
}

type nopTransport struct{}

func (nopTransport) Subscribe(string) error       { return nil }
func (nopTransport) Unsubscribe(string) error     { return nil }
func (nopTransport) Publish(string, []byte) error { return nil }

type failingStorage struct{}

func (failingStorage) Running() ota.Partition { return ota.Partition{Label: "ota_0"} }
func (failingStorage) Boot() ota.Partition    { return ota.Partition{Label: "ota_0"} }
func (failingStorage) Next() (ota.Partition, error) {
	return ota.Partition{Label: "ota_1", Index: 1}, nil
}
func (failingStorage) Begin(ota.Partition) (ota.Writer, error) {
	return nil, stderrors.New("flash locked")
}
func (failingStorage) SetBoot(ota.Partition) error { return nil }

func TestRecorder_JournalsEngineSessions(t *testing.T) {
	repo := newTestRepository(t)

	engine := ota.New(ota.Options{
		AdvertiseTopic: "home/ota/advertise",
		Software:       "logger",
		Version:        "1.0.0",
		Transport:      nopTransport{},
		Storage:        failingStorage{},
		Recorder:       Recorder{Repo: repo},
	})

	ctx := context.Background()
	engine.Handle(ctx, ota.Message{Topic: "home/ota/advertise", Payload: []byte("sensor 1.1.0 upd 0d4a1185")})
	action := engine.Handle(ctx, ota.Message{Topic: "upd", Payload: []byte("hello"), Length: 5, Total: 11, ID: 1})
	if action != ota.ActionRestart {
		t.Fatalf("expected restart action, got %s", action)
	}

	entries, err := repo.List(0)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.Status != StatusStorageFailed || e.Version != "1.1.0" || e.Checksum != "0d4a1185" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.ErrorMessage == "" {
		t.Error("expected error message to be journaled")
	}
	if e.Software != "sensor" {
		t.Errorf("expected advertised software type, got %q", e.Software)
	}
}
