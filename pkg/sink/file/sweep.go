package file

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/user/logfan/pkg/archive"
)

type sweepJob struct {
	project    string
	archiveDir string
	candidates []string
}

// scheduleSweep enumerates archival candidates for the project and
// posts them to the background worker. Enumeration happens on the
// write path, under the sink mutex, so the candidate set is consistent
// with the current file; compression runs off the write path.
func (s *Sink) scheduleSweep(project string, st *projectState) {
	candidates, err := s.candidates(st)
	if err != nil {
		s.logger.Error("archive sweep failed", "project", project, "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	job := sweepJob{project: project, archiveDir: st.archiveDir, candidates: candidates}
	select {
	case s.jobs <- job:
	default:
		// Never block ingestion on a backlogged worker; the same
		// candidates come back on the next sweep.
		s.logger.Warn("archive worker backlogged, deferring sweep", "project", project)
	}
}

func (s *Sink) sweepWorker() {
	defer close(s.workerDone)
	for job := range s.jobs {
		for _, src := range job.candidates {
			s.archiveOne(job.project, src, job.archiveDir)
		}
	}
}

// candidates applies the archive trigger to every rotated *.log file
// in the project directory, excluding the active file.
func (s *Sink) candidates(st *projectState) ([]string, error) {
	logs, err := filepath.Glob(filepath.Join(st.dir, "*.log"))
	if err != nil {
		return nil, err
	}

	type rotated struct {
		path  string
		mtime int64
	}
	var files []rotated
	for _, path := range logs {
		if path == st.path {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, rotated{path: path, mtime: info.ModTime().Unix()})
	}

	switch s.archive.Trigger {
	case "count":
		if len(files) <= s.archive.Count {
			return nil, nil
		}
		sort.Slice(files, func(i, j int) bool { return files[i].mtime < files[j].mtime })
		excess := len(files) - s.archive.Count
		paths := make([]string, 0, excess)
		for _, f := range files[:excess] {
			paths = append(paths, f.path)
		}
		return paths, nil
	case "age":
		cutoff := s.now().Unix() - int64(s.archive.Age.Seconds())
		var paths []string
		for _, f := range files {
			if f.mtime < cutoff {
				paths = append(paths, f.path)
			}
		}
		return paths, nil
	}
	return nil, nil
}

// archiveOne compresses one rotated file into the archive directory
// and removes the source only after the archive is complete. On
// failure the source stays and the next sweep retries; the target name
// is deterministic and overwriting is allowed, so retries converge.
func (s *Sink) archiveOne(project, src, archiveDir string) {
	dst := filepath.Join(archiveDir, archive.TargetName(src, s.archiver.Type()))
	if err := s.archiver.Compress(src, dst); err != nil {
		s.logger.Error("archive failed, keeping source", "project", project, "file", src, "error", err)
		return
	}
	if err := os.Remove(src); err != nil {
		s.logger.Error("archived source not removed", "project", project, "file", src, "error", err)
		return
	}
	s.logger.Info("archived rotated file", "project", project, "archive", dst)
}
