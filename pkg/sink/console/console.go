// Package console renders records as styled terminal lines.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/user/logfan"
	"github.com/user/logfan/pkg/format"
)

// Options configures the console sink. Style strings use the
// space-separated form "bold magenta" or "bold white on red"; words
// after "on" select the background color.
type Options struct {
	Format         string
	ProjectStyle   string
	TimestampStyle string
	LevelStyles    map[logfan.Level]string
	ModuleStyle    string
	FunctionStyle  string
	MessageStyle   string
	CodeStyle      string
	TimeFormat     string
	TimeZone       string

	// Out defaults to stdout.
	Out    io.Writer
	Logger logfan.Logger
}

// Sink writes one styled line per record to its output stream.
type Sink struct {
	template    *format.Template
	fieldStyles map[string]*color.Color
	levelStyles map[logfan.Level]*color.Color
	timeFormat  string
	location    *time.Location
	logger      logfan.Logger

	mu  sync.Mutex
	out io.Writer
}

// New compiles the format template and the style table up front so the
// per-record path is a plain walk.
func New(opts Options) (*Sink, error) {
	loc, err := time.LoadLocation(opts.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("console time zone: %w", err)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	levelStyles := make(map[logfan.Level]*color.Color, len(opts.LevelStyles))
	for level, style := range opts.LevelStyles {
		levelStyles[level] = parseStyle(style)
	}

	return &Sink{
		template: format.New(opts.Format),
		fieldStyles: map[string]*color.Color{
			"project":   parseStyle(opts.ProjectStyle),
			"timestamp": parseStyle(opts.TimestampStyle),
			"module":    parseStyle(opts.ModuleStyle),
			"function":  parseStyle(opts.FunctionStyle),
			"message":   parseStyle(opts.MessageStyle),
			"code":      parseStyle(opts.CodeStyle),
		},
		levelStyles: levelStyles,
		timeFormat:  opts.TimeFormat,
		location:    loc,
		logger:      opts.Logger,
		out:         out,
	}, nil
}

// Write renders one line. Render or output failures are logged to the
// diagnostic stream and never propagated.
func (s *Sink) Write(ctx context.Context, rec *logfan.Record) error {
	line := s.render(rec)

	s.mu.Lock()
	_, err := fmt.Fprintln(s.out, line)
	s.mu.Unlock()
	if err != nil && s.logger != nil {
		s.logger.Error("console write failed", "error", err)
	}
	return nil
}

func (s *Sink) render(rec *logfan.Record) string {
	values := format.Fields(rec, rec.Timestamp.In(s.location).Format(s.timeFormat))

	var b strings.Builder
	for _, seg := range s.template.Segments() {
		if seg.Placeholder == "" {
			b.WriteString(seg.Literal)
			continue
		}
		value, known := values[seg.Placeholder]
		if !known {
			b.WriteString("{" + seg.Placeholder + "}")
			continue
		}
		b.WriteString(s.styleFor(seg.Placeholder, rec.Level).Sprint(value))
	}
	return b.String()
}

func (s *Sink) styleFor(placeholder string, level logfan.Level) *color.Color {
	if placeholder == "level" {
		if c, ok := s.levelStyles[level]; ok {
			return c
		}
		if c, ok := s.levelStyles[logfan.LevelUnknown]; ok {
			return c
		}
		return parseStyle("")
	}
	if c, ok := s.fieldStyles[placeholder]; ok {
		return c
	}
	return parseStyle("")
}

func (s *Sink) Ping(ctx context.Context) error { return nil }

func (s *Sink) Close(ctx context.Context) error { return nil }

var fgColors = map[string]color.Attribute{
	"black":   color.FgBlack,
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
}

var bgColors = map[string]color.Attribute{
	"black":   color.BgBlack,
	"red":     color.BgRed,
	"green":   color.BgGreen,
	"yellow":  color.BgYellow,
	"blue":    color.BgBlue,
	"magenta": color.BgMagenta,
	"cyan":    color.BgCyan,
	"white":   color.BgWhite,
}

// parseStyle maps a style string onto color attributes. Unknown words
// are ignored so an exotic style never breaks rendering.
func parseStyle(style string) *color.Color {
	c := color.New()
	background := false
	for _, word := range strings.Fields(strings.ToLower(style)) {
		switch word {
		case "bold":
			c.Add(color.Bold)
		case "dim":
			c.Add(color.Faint)
		case "italic":
			c.Add(color.Italic)
		case "underline":
			c.Add(color.Underline)
		case "on":
			background = true
		default:
			if background {
				if attr, ok := bgColors[word]; ok {
					c.Add(attr)
				}
				background = false
			} else if attr, ok := fgColors[word]; ok {
				c.Add(attr)
			}
		}
	}
	return c
}
