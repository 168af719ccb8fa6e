// Package validate parses and validates incoming log-queue message
// bodies against the record schema. Validation is pure: no side
// effects, deterministic verdicts.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/logfan"
)

// Reason tags why a message body was rejected.
type Reason string

const (
	ReasonMalformedJSON Reason = "malformed_json"
	ReasonMissingField  Reason = "missing_field"
	ReasonBadType       Reason = "bad_type"
	ReasonOutOfRange    Reason = "out_of_range"
	ReasonBadEnum       Reason = "bad_enum"
)

// Error is the verdict for a rejected message.
type Error struct {
	Reason Reason
	Field  string
	Detail string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid record: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid record: %s on field %q (%s)", e.Reason, e.Field, e.Detail)
}

const (
	maxProjectLen  = 100
	maxModuleLen   = 100
	maxFunctionLen = 100
	maxMessageLen  = 1000
	maxCode        = 999999
)

var projectPattern = regexp.MustCompile(`^[\w\s\-]+$`)

// wireRecord mirrors the message schema with pointer fields so that a
// missing key is distinguishable from a zero value.
type wireRecord struct {
	Project   *string `json:"project"`
	Timestamp *string `json:"timestamp"`
	Level     *string `json:"level"`
	Module    *string `json:"module"`
	Function  *string `json:"function"`
	Message   *string `json:"message"`
	Code      *int64  `json:"code"`
}

// Validate decodes one message body and checks every field against the
// schema bounds. On success the returned record carries a canonical
// UTC timestamp and a lowercased level.
func Validate(body []byte) (*logfan.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var w wireRecord
	if err := dec.Decode(&w); err != nil {
		if typeErr, ok := err.(*json.UnmarshalTypeError); ok {
			return nil, &Error{Reason: ReasonBadType, Field: typeErr.Field, Detail: err.Error()}
		}
		// Syntax errors, truncated bodies and unknown top-level keys
		// all mean the body does not match the message schema shape.
		return nil, &Error{Reason: ReasonMalformedJSON, Detail: err.Error()}
	}
	// Trailing garbage after the document.
	if dec.More() {
		return nil, &Error{Reason: ReasonMalformedJSON, Detail: "trailing data after JSON document"}
	}

	if err := requireFields(&w); err != nil {
		return nil, err
	}

	if utf8.RuneCountInString(*w.Project) > maxProjectLen || !projectPattern.MatchString(*w.Project) {
		return nil, &Error{Reason: ReasonOutOfRange, Field: "project", Detail: *w.Project}
	}

	ts, err := time.Parse(time.RFC3339, *w.Timestamp)
	if err != nil {
		return nil, &Error{Reason: ReasonBadType, Field: "timestamp", Detail: err.Error()}
	}

	level := logfan.Level(strings.ToLower(*w.Level))
	if !level.Valid() {
		return nil, &Error{Reason: ReasonBadEnum, Field: "level", Detail: *w.Level}
	}

	if utf8.RuneCountInString(*w.Module) > maxModuleLen {
		return nil, &Error{Reason: ReasonOutOfRange, Field: "module", Detail: "exceeds 100 characters"}
	}
	if utf8.RuneCountInString(*w.Function) > maxFunctionLen {
		return nil, &Error{Reason: ReasonOutOfRange, Field: "function", Detail: "exceeds 100 characters"}
	}
	if utf8.RuneCountInString(*w.Message) > maxMessageLen {
		return nil, &Error{Reason: ReasonOutOfRange, Field: "message", Detail: "exceeds 1000 characters"}
	}
	if *w.Code < 0 || *w.Code > maxCode {
		return nil, &Error{Reason: ReasonOutOfRange, Field: "code", Detail: fmt.Sprintf("%d", *w.Code)}
	}

	return &logfan.Record{
		Project:   *w.Project,
		Timestamp: ts.UTC(),
		Level:     level,
		Module:    *w.Module,
		Function:  *w.Function,
		Message:   *w.Message,
		Code:      int(*w.Code),
	}, nil
}

func requireFields(w *wireRecord) error {
	missing := func(field string) error {
		return &Error{Reason: ReasonMissingField, Field: field, Detail: "required"}
	}
	switch {
	case w.Project == nil:
		return missing("project")
	case w.Timestamp == nil:
		return missing("timestamp")
	case w.Level == nil:
		return missing("level")
	case w.Module == nil:
		return missing("module")
	case w.Function == nil:
		return missing("function")
	case w.Message == nil:
		return missing("message")
	case w.Code == nil:
		return missing("code")
	}
	return nil
}
