package archivepolicy

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	tw.Close()
	gz.Close()
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	zw.Close()
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "app-nix-0.2.0.tar.gz")
	writeTarGz(t, archive, map[string]string{"app": "binary contents"})

	root, err := Extract(archive, dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "app"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != "binary contents" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "app-win-0.2.0.zip")
	writeZip(t, archive, map[string]string{"app.exe": "binary contents"})

	root, err := Extract(archive, dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "app.exe"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != "binary contents" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "app-nix-0.2.0.tar.gz")
	writeTarGz(t, archive, map[string]string{"../../escape": "evil"})

	if _, err := Extract(archive, dir); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestExecutablePathMacBundle(t *testing.T) {
	root := t.TempDir()
	bundle := filepath.Join(root, "app.app", "Contents", "MacOS")
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	got := ExecutablePath(root, "app", "mac")
	want := filepath.Join(root, "app.app", "Contents", "MacOS", "app")
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestExecutablePathPlain(t *testing.T) {
	root := t.TempDir()
	got := ExecutablePath(root, "app", "nix64")
	want := filepath.Join(root, "app")
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
