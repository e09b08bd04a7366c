// Package archivepolicy implements the client staging policy: where
// tar.gz/zip archive contents land under "<data_dir>/update/", and where
// the executable lives inside the extracted tree (including the macOS
// ".app" bundle convention).
package archivepolicy

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxExtractedSize bounds total bytes written during one extraction, to
// keep a corrupt or hostile archive from exhausting disk space.
const maxExtractedSize = 2 << 30 // 2 GiB

// Extract expands the archive at archivePath (a ".tar.gz" or ".zip") into
// a fresh subdirectory of destDir named after the archive's base filename,
// and returns that subdirectory's path.
func Extract(archivePath, destDir string) (string, error) {
	base := filepath.Base(archivePath)
	lower := strings.ToLower(base)

	root := filepath.Join(destDir, strings.TrimSuffix(strings.TrimSuffix(base, ".tar.gz"), ".zip"))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("archivepolicy: creating extraction root %s: %w", root, err)
	}

	switch {
	case strings.HasSuffix(lower, ".tar.gz"):
		if err := extractTarGz(archivePath, root); err != nil {
			return "", err
		}
	case strings.HasSuffix(lower, ".zip"):
		if err := extractZip(archivePath, root); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("archivepolicy: unsupported archive extension: %s", base)
	}
	return root, nil
}

func extractTarGz(archivePath, root string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("archivepolicy: opening %s: %w", archivePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("archivepolicy: opening gzip stream: %w", err)
	}
	defer gz.Close()

	var written int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archivepolicy: reading tar entry: %w", err)
		}

		dest, err := safeJoin(root, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("archivepolicy: creating %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("archivepolicy: creating %s: %w", filepath.Dir(dest), err)
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("archivepolicy: creating %s: %w", dest, err)
			}
			n, err := io.Copy(out, io.LimitReader(tr, maxExtractedSize-written+1))
			out.Close()
			if err != nil {
				return fmt.Errorf("archivepolicy: writing %s: %w", dest, err)
			}
			written += n
			if written > maxExtractedSize {
				return fmt.Errorf("archivepolicy: archive exceeds %d bytes uncompressed", maxExtractedSize)
			}
		}
	}
}

func extractZip(archivePath, root string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("archivepolicy: opening %s: %w", archivePath, err)
	}
	defer r.Close()

	var written int64
	for _, f := range r.File {
		dest, err := safeJoin(root, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("archivepolicy: creating %s: %w", dest, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("archivepolicy: creating %s: %w", filepath.Dir(dest), err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("archivepolicy: opening zip entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode()&0o777|0o600)
		if err != nil {
			rc.Close()
			return fmt.Errorf("archivepolicy: creating %s: %w", dest, err)
		}
		n, err := io.Copy(out, io.LimitReader(rc, maxExtractedSize-written+1))
		out.Close()
		rc.Close()
		if err != nil {
			return fmt.Errorf("archivepolicy: writing %s: %w", dest, err)
		}
		written += n
		if written > maxExtractedSize {
			return fmt.Errorf("archivepolicy: archive exceeds %d bytes uncompressed", maxExtractedSize)
		}
	}
	return nil
}

// safeJoin joins root and name, rejecting any entry that would escape
// root via ".." path segments (zip-slip).
func safeJoin(root, name string) (string, error) {
	dest := filepath.Join(root, name)
	if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
		return "", fmt.Errorf("archivepolicy: archive entry %q escapes extraction root", name)
	}
	return dest, nil
}

// ExecutablePath resolves the path to the application executable inside
// an extracted tree: on macOS app bundles it is
// "<bundle>/Contents/MacOS/<name>"; on Windows "<root>/<name>.exe";
// elsewhere "<root>/<name>".
func ExecutablePath(extractedRoot, name, platform string) string {
	if strings.HasPrefix(platform, "m") {
		bundle := filepath.Join(extractedRoot, name+".app")
		if _, err := os.Stat(bundle); err == nil {
			return filepath.Join(bundle, "Contents", "MacOS", name)
		}
	}
	if platform != "" && platform[0] == 'w' {
		return filepath.Join(extractedRoot, name+".exe")
	}
	return filepath.Join(extractedRoot, name)
}
