// Package file is the rotation and archival engine. It keeps one
// append-only log file per project, frames every file with a header
// and footer box, rotates on the configured trigger and hands rotated
// files to a background archival worker.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/logfan"
	"github.com/user/logfan/pkg/archive"
	"github.com/user/logfan/pkg/diag"
	"github.com/user/logfan/pkg/format"
)

// Rotation selects when the active file is replaced. Only the
// threshold matching Trigger is consulted.
type Rotation struct {
	Trigger string // time, size, daily, lines
	Time    time.Duration
	Daily   string // wall-clock HH:MM
	Size    int64
	Lines   int
}

// Archive configures the post-rotation sweep.
type Archive struct {
	Enabled          bool
	Type             archive.Type
	CompressionLevel int
	Directory        string
	Trigger          string // count, age
	Count            int
	Age              time.Duration
}

type Options struct {
	SharedDirectory  string
	ProjectDirectory string // template, placeholder {project}
	Filename         string // template, placeholders {project} and {date}
	DateFileFormat   string
	DateLogFormat    string
	TimeZone         string
	LineFormat       string
	Rotation         Rotation
	Archive          Archive

	// Logger defaults to a no-op diagnostic logger.
	Logger logfan.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// projectState is the per-project file lifecycle. It is owned by the
// sink and only touched under the sink mutex.
type projectState struct {
	dir        string
	archiveDir string
	path       string
	file       *os.File
	openedAt   time.Time
	lines      int
}

// Sink appends one formatted line per record to the project's active
// file. Records for different projects never share a file.
type Sink struct {
	root       string
	projectDir *format.Template
	filename   *format.Template
	dateFile   string
	dateLog    string
	line       *format.Template
	location   *time.Location
	rotation   Rotation
	archive    Archive
	archiver   archive.Archiver
	logger     logfan.Logger
	now        func() time.Time

	mu     sync.Mutex
	states map[string]*projectState

	jobs       chan sweepJob
	workerDone chan struct{}
	closeOnce  sync.Once
}

func New(opts Options) (*Sink, error) {
	loc, err := time.LoadLocation(opts.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("file time zone: %w", err)
	}
	var archiver archive.Archiver
	if opts.Archive.Enabled {
		archiver, err = archive.New(opts.Archive.Type, opts.Archive.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("file archiver: %w", err)
		}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = diag.Nop()
	}

	s := &Sink{
		root:       opts.SharedDirectory,
		projectDir: format.New(opts.ProjectDirectory),
		filename:   format.New(opts.Filename),
		dateFile:   opts.DateFileFormat,
		dateLog:    opts.DateLogFormat,
		line:       format.New(opts.LineFormat),
		location:   loc,
		rotation:   opts.Rotation,
		archive:    opts.Archive,
		archiver:   archiver,
		logger:     logger,
		now:        now,
		states:     make(map[string]*projectState),
		jobs:       make(chan sweepJob, 64),
		workerDone: make(chan struct{}),
	}
	// A single worker keeps archival serial: consecutive sweeps may
	// name the same candidate, and serial processing turns the retry
	// into a clean overwrite.
	go s.sweepWorker()
	return s, nil
}

// Write appends the record to its project's active file, rotating
// first when the trigger fires. The write is unbuffered so a record is
// on disk once Write returns.
func (s *Sink) Write(ctx context.Context, rec *logfan.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state(rec.Project)
	if err != nil {
		return err
	}
	if s.shouldRotate(st) {
		if err := s.rotate(rec.Project, st); err != nil {
			// The old file is already footered; drop the state so the
			// next record starts a fresh one.
			delete(s.states, rec.Project)
			return err
		}
	}

	ts := rec.Timestamp.In(s.location).Format(s.dateLog)
	line := s.line.Render(format.Fields(rec, ts))
	if _, err := st.file.WriteString(line + "\n"); err != nil {
		// Drop the record, footer what we have and force a fresh file
		// on the next write.
		s.logger.Error("file write failed, dropping record", "project", rec.Project, "error", err)
		s.closeState(rec.Project, st)
		delete(s.states, rec.Project)
		return fmt.Errorf("file: append to %s: %w", st.path, err)
	}
	st.lines++
	return nil
}

// state returns the live state for project, creating directories and
// opening the first file on first sight. Nothing is memoized on
// failure, so directory and open errors are retried on the next
// record.
func (s *Sink) state(project string) (*projectState, error) {
	if st, ok := s.states[project]; ok {
		return st, nil
	}

	dir := filepath.Join(s.root, s.projectDir.Render(map[string]string{"project": project}))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create project directory: %w", err)
	}
	archiveDir := filepath.Join(dir, s.archive.Directory)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create archive directory: %w", err)
	}

	st := &projectState{dir: dir, archiveDir: archiveDir}
	if err := s.openNewFile(project, st); err != nil {
		return nil, err
	}
	s.states[project] = st
	return st, nil
}

// openNewFile starts the next active file: fresh timestamped name,
// header box, then an archival sweep over the rotated files left
// behind.
func (s *Sink) openNewFile(project string, st *projectState) error {
	now := s.now()
	name := s.filename.Render(map[string]string{
		"project": project,
		"date":    now.Format(s.dateFile),
	})
	path := filepath.Join(st.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", path, err)
	}
	st.file = f
	st.path = path
	st.openedAt = now
	st.lines = 0

	if _, err := f.WriteString(s.header(project, st)); err != nil {
		f.Close()
		st.file = nil
		return fmt.Errorf("file: write header to %s: %w", path, err)
	}

	if s.archive.Enabled {
		s.scheduleSweep(project, st)
	}
	return nil
}

func (s *Sink) shouldRotate(st *projectState) bool {
	now := s.now().In(s.location)
	switch s.rotation.Trigger {
	case "daily":
		return now.Format("15:04") == s.rotation.Daily &&
			st.openedAt.In(s.location).Format("2006-01-02") != now.Format("2006-01-02")
	case "time":
		return s.now().Sub(st.openedAt) >= s.rotation.Time
	case "lines":
		return st.lines >= s.rotation.Lines
	case "size":
		info, err := os.Stat(st.path)
		return err == nil && info.Size() >= s.rotation.Size
	}
	return false
}

func (s *Sink) rotate(project string, st *projectState) error {
	s.closeState(project, st)
	return s.openNewFile(project, st)
}

// closeState footers and closes the active file. Every teardown path
// goes through here so no file is left without a footer.
func (s *Sink) closeState(project string, st *projectState) {
	if st.file == nil {
		return
	}
	if err := s.writeFooter(st); err != nil {
		s.logger.Error("file footer failed", "project", project, "error", err)
	}
	st.file = nil
}

func (s *Sink) Ping(ctx context.Context) error { return nil }

// Close footers every open file and drains the archival worker.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	for project, st := range s.states {
		s.closeState(project, st)
	}
	s.states = make(map[string]*projectState)
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.jobs) })
	select {
	case <-s.workerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
