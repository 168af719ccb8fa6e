// Package format renders log-line templates with {name} placeholders.
// The placeholder set is shared by the console and file sinks:
// project, timestamp, level, module, function, message, code.
// Unknown placeholders are emitted literally.
package format

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/user/logfan"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Segment is one piece of a parsed template: either a literal run or a
// single placeholder name.
type Segment struct {
	Literal     string
	Placeholder string
}

// Template is a parsed format string.
type Template struct {
	segments []Segment
}

// New parses a format string once so rendering is a plain walk.
func New(template string) *Template {
	var segs []Segment
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(template, -1) {
		if loc[0] > last {
			segs = append(segs, Segment{Literal: template[last:loc[0]]})
		}
		segs = append(segs, Segment{Placeholder: template[loc[2]:loc[3]]})
		last = loc[1]
	}
	if last < len(template) {
		segs = append(segs, Segment{Literal: template[last:]})
	}
	return &Template{segments: segs}
}

// Segments exposes the parsed form for renderers that style each
// placeholder individually.
func (t *Template) Segments() []Segment {
	return t.segments
}

// Render substitutes values into the template. Placeholders absent
// from values are emitted back literally as {name}.
func (t *Template) Render(values map[string]string) string {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.Placeholder == "" {
			b.WriteString(seg.Literal)
			continue
		}
		if v, ok := values[seg.Placeholder]; ok {
			b.WriteString(v)
		} else {
			b.WriteString("{" + seg.Placeholder + "}")
		}
	}
	return b.String()
}

// Fields maps a record onto the placeholder set. The timestamp is
// passed in pre-formatted because each sink renders it in its own
// zone and layout. The level is uppercased for display.
func Fields(rec *logfan.Record, timestamp string) map[string]string {
	return map[string]string{
		"project":   rec.Project,
		"timestamp": timestamp,
		"level":     strings.ToUpper(string(rec.Level)),
		"module":    rec.Module,
		"function":  rec.Function,
		"message":   rec.Message,
		"code":      strconv.Itoa(rec.Code),
	}
}
