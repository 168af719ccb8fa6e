// Package archive compresses rotated log files. One archiver exists
// per configured type; all of them consume a source file and produce a
// single archive file whose name is the source basename with the
// suffix replaced by the archive type.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"
)

// Type selects the archive format.
type Type string

const (
	Zip   Type = "zip"
	Gzip  Type = "gz"
	Bzip2 Type = "bz2"
	Xz    Type = "xz"
	Tar   Type = "tar"
)

// Valid reports whether t is a supported archive type.
func (t Type) Valid() bool {
	switch t {
	case Zip, Gzip, Bzip2, Xz, Tar:
		return true
	}
	return false
}

// Archiver writes the contents of a source file into an archive file.
type Archiver interface {
	// Compress creates or overwrites dst with the archived contents of
	// src. Overwriting makes archival idempotent: the target name is
	// deterministic, so a retried sweep converges to the same result.
	Compress(src, dst string) error
	Type() Type
}

// New returns the archiver for t. The compression level (0-9) applies
// where the format supports one; tar is plain concatenation and xz
// uses its default preset.
func New(t Type, level int) (Archiver, error) {
	switch t {
	case Zip:
		return &zipArchiver{level: level}, nil
	case Gzip:
		return &gzipArchiver{level: level}, nil
	case Bzip2:
		return &bzip2Archiver{level: level}, nil
	case Xz:
		return &xzArchiver{}, nil
	case Tar:
		return &tarArchiver{}, nil
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", t)
	}
}

// TargetName maps a source file name onto its archive name:
// log_p_2024-01-01.log -> log_p_2024-01-01.zip.
func TargetName(src string, t Type) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + string(t)
}

// streamInto copies src through a wrapped writer into dst.
func streamInto(src, dst string, wrap func(io.Writer) (io.WriteCloser, error)) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	w, err := wrap(out)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

type gzipArchiver struct {
	level int
}

func (a *gzipArchiver) Compress(src, dst string) error {
	return streamInto(src, dst, func(w io.Writer) (io.WriteCloser, error) {
		zw, err := gzip.NewWriterLevel(w, a.level)
		if err != nil {
			return nil, fmt.Errorf("gzip level %d: %w", a.level, err)
		}
		return zw, nil
	})
}

func (a *gzipArchiver) Type() Type { return Gzip }

type bzip2Archiver struct {
	level int
}

func (a *bzip2Archiver) Compress(src, dst string) error {
	level := a.level
	if level < bzip2.BestSpeed {
		level = bzip2.BestSpeed
	}
	return streamInto(src, dst, func(w io.Writer) (io.WriteCloser, error) {
		zw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
		if err != nil {
			return nil, fmt.Errorf("bzip2 level %d: %w", level, err)
		}
		return zw, nil
	})
}

func (a *bzip2Archiver) Type() Type { return Bzip2 }

type xzArchiver struct{}

func (a *xzArchiver) Compress(src, dst string) error {
	return streamInto(src, dst, func(w io.Writer) (io.WriteCloser, error) {
		zw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("xz writer: %w", err)
		}
		return zw, nil
	})
}

func (a *xzArchiver) Type() Type { return Xz }

type zipArchiver struct {
	level int
}

func (a *zipArchiver) Compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, a.level)
	})

	entry, err := zw.Create(filepath.Base(src))
	if err == nil {
		_, err = io.Copy(entry, in)
	}
	if err == nil {
		err = zw.Close()
	} else {
		zw.Close()
	}
	if err == nil {
		err = out.Close()
	} else {
		out.Close()
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("zip %s: %w", src, err)
	}
	return nil
}

func (a *zipArchiver) Type() Type { return Zip }

type tarArchiver struct{}

func (a *tarArchiver) Compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	tw := tar.NewWriter(out)
	hdr, err := tar.FileInfoHeader(info, "")
	if err == nil {
		hdr.Name = filepath.Base(src)
		err = tw.WriteHeader(hdr)
	}
	if err == nil {
		_, err = io.Copy(tw, in)
	}
	if err == nil {
		err = tw.Close()
	} else {
		tw.Close()
	}
	if err == nil {
		err = out.Close()
	} else {
		out.Close()
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("tar %s: %w", src, err)
	}
	return nil
}

func (a *tarArchiver) Type() Type { return Tar }
