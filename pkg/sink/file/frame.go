package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Every file starts and ends with a fixed-width box so a truncated or
// footer-less file is visibly incomplete.
const contentWidth = 80

const frameTimeLayout = "02:01:2006 15:04:05 -0700"

func box(lines []string) string {
	var b strings.Builder
	b.WriteString("┌" + strings.Repeat("─", contentWidth) + "┐\n")
	for _, line := range lines {
		pad := contentWidth - utf8.RuneCountInString(line) - 2
		if pad < 0 {
			pad = 0
		}
		b.WriteString("│ " + line + strings.Repeat(" ", pad) + " │\n")
	}
	b.WriteString("└" + strings.Repeat("─", contentWidth) + "┘\n")
	return b.String()
}

func (s *Sink) header(project string, st *projectState) string {
	return box([]string{
		"LOG FILE START",
		"File: " + filepath.Base(st.path),
		"Project: " + project,
		"Start Date: " + st.openedAt.In(s.location).Format(frameTimeLayout),
	})
}

// writeFooter finalizes the active file: the handle is closed first so
// the reported size covers everything written, then the footer box is
// appended.
func (s *Sink) writeFooter(st *projectState) error {
	if err := st.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", st.path, err)
	}

	info, err := os.Stat(st.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", st.path, err)
	}

	footer := "\n" + box([]string{
		"LOG FILE END",
		"End Date: " + s.now().In(s.location).Format(frameTimeLayout),
		"Total Lines: " + strconv.Itoa(st.lines),
		"File Size: " + humanSize(info.Size()),
	})

	f, err := os.OpenFile(st.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", st.path, err)
	}
	if _, err := f.WriteString(footer); err != nil {
		f.Close()
		return fmt.Errorf("append footer to %s: %w", st.path, err)
	}
	return f.Close()
}

// humanSize renders a byte count in base-1024 units with one decimal.
func humanSize(n int64) string {
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if n < 1024 {
			return fmt.Sprintf("%.1f %s", float64(n), unit)
		}
		n /= 1024
	}
	return fmt.Sprintf("%.1f TB", float64(n))
}
