package blockdev

import (
	"context"
	"testing"

	"github.com/spf13/afero"
)

func TestFileManager_WritesWithoutTruncating(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/tmp/card.img", []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewFileManager(fs)
	ctx := context.Background()
	if err := m.UnmountPartitions(ctx, "/tmp/card.img"); err != nil {
		t.Fatalf("UnmountPartitions: %v", err)
	}

	w, err := m.OpenTarget(ctx, "/tmp/card.img")
	if err != nil {
		t.Fatalf("OpenTarget: %v", err)
	}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, _ := afero.ReadFile(fs, "/tmp/card.img")
	if string(got) != "abc3456789" {
		t.Errorf("contents = %q, want %q", got, "abc3456789")
	}
	if err := m.RereadPartitions(ctx, "/tmp/card.img"); err != nil {
		t.Errorf("RereadPartitions: %v", err)
	}
}

func TestFileManager_MissingTarget(t *testing.T) {
	m := NewFileManager(afero.NewMemMapFs())
	if _, err := m.OpenTarget(context.Background(), "/dev/sdz"); err == nil {
		t.Error("expected error opening a missing target")
	}
}
