// Package config holds the server configuration document, its
// validation rules and the runtime manager that owns the current
// snapshot.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/logfan/pkg/archive"
)

// Server is the full configuration document. A document always
// validates as a whole: missing fields take the documented defaults,
// and an accepted snapshot is applied fully or not at all.
type Server struct {
	RabbitMQ    RabbitMQ    `json:"rabbitmq" mapstructure:"rabbitmq"`
	TimescaleDB TimescaleDB `json:"timescaledb" mapstructure:"timescaledb"`
	Console     Console     `json:"console" mapstructure:"console"`
	Files       Files       `json:"files" mapstructure:"files"`
	API         API         `json:"api" mapstructure:"api"`
}

type RabbitMQ struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Queue    string `json:"queue" mapstructure:"queue"`
	Prefetch int    `json:"prefetch" mapstructure:"prefetch"`
}

// URL builds the broker connection string.
func (r RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.Username, r.Password, r.Host, r.Port)
}

type TimescaleDB struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	Username           string `json:"username" mapstructure:"username"`
	Password           string `json:"password" mapstructure:"password"`
	Database           string `json:"database" mapstructure:"database"`
	HealthCheckMinutes int    `json:"health_check_minutes" mapstructure:"health_check_minutes"`
}

// ConnString builds a pgx-compatible connection string.
func (t TimescaleDB) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", t.Username, t.Password, t.Host, t.Port, t.Database)
}

// LevelStyles maps each record level onto a console style string.
type LevelStyles struct {
	Info    string `json:"info" mapstructure:"info"`
	Warning string `json:"warning" mapstructure:"warning"`
	Error   string `json:"error" mapstructure:"error"`
	Fatal   string `json:"fatal" mapstructure:"fatal"`
	Debug   string `json:"debug" mapstructure:"debug"`
	Alert   string `json:"alert" mapstructure:"alert"`
	Unknown string `json:"unknown" mapstructure:"unknown"`
}

type Console struct {
	Enabled        bool        `json:"enabled" mapstructure:"enabled"`
	Format         string      `json:"format" mapstructure:"format"`
	ProjectStyle   string      `json:"project_style" mapstructure:"project_style"`
	TimestampStyle string      `json:"timestamp_style" mapstructure:"timestamp_style"`
	LevelStyles    LevelStyles `json:"level_styles" mapstructure:"level_styles"`
	ModuleStyle    string      `json:"module_style" mapstructure:"module_style"`
	FunctionStyle  string      `json:"function_style" mapstructure:"function_style"`
	MessageStyle   string      `json:"message_style" mapstructure:"message_style"`
	CodeStyle      string      `json:"code_style" mapstructure:"code_style"`
	TimeFormat     string      `json:"time_format" mapstructure:"time_format"`
	TimeZone       string      `json:"time_zone" mapstructure:"time_zone"`
}

type Rotation struct {
	// Trigger is one of time, size, daily, lines. Only the matching
	// threshold is consulted.
	Trigger string `json:"trigger" mapstructure:"trigger"`
	Time    int    `json:"time" mapstructure:"time"`
	Daily   string `json:"daily" mapstructure:"daily"`
	Size    int64  `json:"size" mapstructure:"size"`
	Lines   int    `json:"lines" mapstructure:"lines"`
}

type Archive struct {
	Enabled          bool   `json:"enabled" mapstructure:"enabled"`
	Type             string `json:"type" mapstructure:"type"`
	CompressionLevel int    `json:"compression_level" mapstructure:"compression_level"`
	Directory        string `json:"directory" mapstructure:"directory"`
	Trigger          string `json:"trigger" mapstructure:"trigger"`
	Count            int    `json:"count" mapstructure:"count"`
	Age              int    `json:"age" mapstructure:"age"`
}

type Files struct {
	Enabled          bool     `json:"enabled" mapstructure:"enabled"`
	SharedDirectory  string   `json:"shared_directory" mapstructure:"shared_directory"`
	ProjectDirectory string   `json:"project_directory" mapstructure:"project_directory"`
	Filename         string   `json:"filename" mapstructure:"filename"`
	DateFileFormat   string   `json:"date_file_format" mapstructure:"date_file_format"`
	DateLogFormat    string   `json:"date_log_format" mapstructure:"date_log_format"`
	DateTimezone     string   `json:"date_timezone" mapstructure:"date_timezone"`
	LogFormat        string   `json:"log_format" mapstructure:"log_format"`
	Rotation         Rotation `json:"rotation" mapstructure:"rotation"`
	Archive          Archive  `json:"archive" mapstructure:"archive"`
}

type API struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// Addr builds the listen address for the admin API.
func (a API) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

const defaultLineFormat = "[{project}] [{timestamp}] [{level}] {module}.{function}: {message} [{code}]"

// Default returns a fully populated document with every documented
// default. Parse uses it as the base so that missing fields fall back
// field by field.
func Default() *Server {
	return &Server{
		RabbitMQ: RabbitMQ{
			Host:     "localhost",
			Port:     5672,
			Username: "guest",
			Password: "guest",
			Queue:    "logs",
			Prefetch: 10,
		},
		TimescaleDB: TimescaleDB{
			Enabled:            true,
			Host:               "localhost",
			Port:               5432,
			Username:           "logger",
			Password:           "logger",
			Database:           "logger",
			HealthCheckMinutes: 30,
		},
		Console: Console{
			Enabled:        true,
			Format:         defaultLineFormat,
			ProjectStyle:   "bold cyan",
			TimestampStyle: "dim cyan",
			LevelStyles: LevelStyles{
				Info:    "bold magenta",
				Warning: "bold yellow",
				Error:   "bold red",
				Fatal:   "bold white on red",
				Debug:   "dim cyan",
				Alert:   "bold magenta",
				Unknown: "bold white on red",
			},
			ModuleStyle:   "green",
			FunctionStyle: "magenta",
			MessageStyle:  "",
			CodeStyle:     "dim",
			TimeFormat:    "2006-01-02 15:04:05",
			TimeZone:      "UTC",
		},
		Files: Files{
			Enabled:          true,
			SharedDirectory:  "logs",
			ProjectDirectory: "{project}",
			Filename:         "log_{project}_{date}.log",
			DateFileFormat:   "2006-01-02_15-04-05",
			DateLogFormat:    "2006-01-02 15:04:05",
			DateTimezone:     "UTC",
			LogFormat:        defaultLineFormat,
			Rotation: Rotation{
				Trigger: "daily",
				Time:    24400,
				Daily:   "00:00",
				Size:    10 * 1024 * 1024,
				Lines:   10000,
			},
			Archive: Archive{
				Enabled:          false,
				Type:             "zip",
				CompressionLevel: 6,
				Directory:        "archive",
				Trigger:          "count",
				Count:            10,
				Age:              244000,
			},
		},
		API: API{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8000,
		},
	}
}

// Parse decodes a JSON document over the defaults and validates the
// result as a whole.
func Parse(data []byte) (*Server, error) {
	s := Default()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode config document: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %q: %s", e.Field, e.Detail)
}

func invalid(field, detail string) error {
	return &ValidationError{Field: field, Detail: detail}
}

// Validate checks every bound of the document.
func (s *Server) Validate() error {
	if err := validPort(s.RabbitMQ.Port); err != nil {
		return invalid("rabbitmq.port", err.Error())
	}
	if s.RabbitMQ.Queue == "" {
		return invalid("rabbitmq.queue", "must not be empty")
	}
	if s.RabbitMQ.Prefetch < 1 {
		return invalid("rabbitmq.prefetch", "must be at least 1")
	}
	if err := validPort(s.TimescaleDB.Port); err != nil {
		return invalid("timescaledb.port", err.Error())
	}
	if s.TimescaleDB.HealthCheckMinutes < 1 {
		return invalid("timescaledb.health_check_minutes", "must be at least 1")
	}
	if _, err := time.LoadLocation(s.Console.TimeZone); err != nil {
		return invalid("console.time_zone", err.Error())
	}
	if s.Console.TimeFormat == "" {
		return invalid("console.time_format", "must not be empty")
	}
	if err := s.Files.validate(); err != nil {
		return err
	}
	if s.API.Enabled {
		if err := validPort(s.API.Port); err != nil {
			return invalid("api.port", err.Error())
		}
	}
	return nil
}

func (f *Files) validate() error {
	if f.SharedDirectory == "" {
		return invalid("files.shared_directory", "must not be empty")
	}
	if f.Filename == "" {
		return invalid("files.filename", "must not be empty")
	}
	if _, err := time.LoadLocation(f.DateTimezone); err != nil {
		return invalid("files.date_timezone", err.Error())
	}

	switch f.Rotation.Trigger {
	case "time":
		if f.Rotation.Time < 3600 {
			return invalid("files.rotation.time", "must be at least 3600 seconds")
		}
	case "size":
		if f.Rotation.Size < 1024 {
			return invalid("files.rotation.size", "must be at least 1024 bytes")
		}
	case "daily":
		if _, err := time.Parse("15:04", f.Rotation.Daily); err != nil {
			return invalid("files.rotation.daily", "must be wall-clock HH:MM")
		}
	case "lines":
		if f.Rotation.Lines < 1 {
			return invalid("files.rotation.lines", "must be at least 1")
		}
	default:
		return invalid("files.rotation.trigger", "must be one of time, size, daily, lines")
	}

	a := f.Archive
	if !archive.Type(a.Type).Valid() {
		return invalid("files.archive.type", "must be one of zip, gz, bz2, xz, tar")
	}
	if a.CompressionLevel < 0 || a.CompressionLevel > 9 {
		return invalid("files.archive.compression_level", "must be between 0 and 9")
	}
	if a.Directory == "" {
		return invalid("files.archive.directory", "must not be empty")
	}
	switch a.Trigger {
	case "count":
		if a.Count < 1 {
			return invalid("files.archive.count", "must be at least 1")
		}
	case "age":
		if a.Age < 24400 {
			return invalid("files.archive.age", "must be at least 24400 seconds")
		}
	default:
		return invalid("files.archive.trigger", "must be one of age, count")
	}
	return nil
}

func validPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("port %d outside 1-65535", p)
	}
	return nil
}
