package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTargetName(t *testing.T) {
	tests := []struct {
		src  string
		typ  Type
		want string
	}{
		{"/logs/p/log_p_2024-01-01.log", Zip, "log_p_2024-01-01.zip"},
		{"log_p.log", Gzip, "log_p.gz"},
		{"noext", Tar, "noext.tar"},
		{"a.b.log", Xz, "a.b.xz"},
	}
	for _, tt := range tests {
		if got := TargetName(tt.src, tt.typ); got != tt.want {
			t.Errorf("TargetName(%q, %s) = %q, want %q", tt.src, tt.typ, got, tt.want)
		}
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := New(Type("rar"), 6); err == nil {
		t.Fatal("New accepted unknown type")
	}
}

func TestCompressRoundTrips(t *testing.T) {
	content := "line one\nline two\nстрока три\n"

	for _, typ := range []Type{Zip, Gzip, Bzip2, Xz, Tar} {
		t.Run(string(typ), func(t *testing.T) {
			dir := t.TempDir()
			src := writeSource(t, dir, "log_p_2024.log", content)
			dst := filepath.Join(dir, TargetName(src, typ))

			a, err := New(typ, 6)
			if err != nil {
				t.Fatal(err)
			}
			if err := a.Compress(src, dst); err != nil {
				t.Fatalf("Compress() error = %v", err)
			}

			// Idempotent: compressing again over the same target succeeds.
			if err := a.Compress(src, dst); err != nil {
				t.Fatalf("repeat Compress() error = %v", err)
			}

			got := extract(t, typ, dst)
			if got != content {
				t.Errorf("extracted = %q, want %q", got, content)
			}
		})
	}
}

func TestCompressMissingSource(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Gzip, 6)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Compress(filepath.Join(dir, "absent.log"), filepath.Join(dir, "absent.gz")); err == nil {
		t.Fatal("Compress accepted a missing source")
	}
}

func extract(t *testing.T, typ Type, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	switch typ {
	case Zip:
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		if len(zr.File) != 1 {
			t.Fatalf("zip entries = %d, want 1", len(zr.File))
		}
		rc, err := zr.File[0].Open()
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		return readAll(t, rc)
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}
		defer zr.Close()
		return readAll(t, zr)
	case Tar:
		tr := tar.NewReader(bytes.NewReader(data))
		if _, err := tr.Next(); err != nil {
			t.Fatal(err)
		}
		return readAll(t, tr)
	case Bzip2:
		zr, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			t.Fatal(err)
		}
		defer zr.Close()
		return readAll(t, zr)
	case Xz:
		zr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}
		return readAll(t, zr)
	default:
		t.Fatalf("no extractor for %s", typ)
		return ""
	}
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
