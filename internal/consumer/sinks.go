package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/user/logfan"
	"github.com/user/logfan/internal/config"
	"github.com/user/logfan/pkg/archive"
	"github.com/user/logfan/pkg/diag"
	"github.com/user/logfan/pkg/sink/console"
	"github.com/user/logfan/pkg/sink/database"
	"github.com/user/logfan/pkg/sink/file"
)

type namedSink struct {
	name string
	sink logfan.Sink
}

// buildSinks maps the config snapshot onto live sink instances.
// Disabled sections simply produce no sink.
func (c *Consumer) buildSinks(ctx context.Context, cfg *config.Server) ([]namedSink, error) {
	var sinks []namedSink

	if cfg.Console.Enabled {
		s, err := console.New(consoleOptions(cfg.Console))
		if err != nil {
			return closeAll(sinks), fmt.Errorf("console sink: %w", err)
		}
		sinks = append(sinks, namedSink{name: "console", sink: s})
	}

	if cfg.TimescaleDB.Enabled {
		s := database.New(database.Options{
			ConnString:          cfg.TimescaleDB.ConnString(),
			HealthCheckInterval: time.Duration(cfg.TimescaleDB.HealthCheckMinutes) * time.Minute,
			Logger:              diag.New("database"),
		})
		if err := s.Start(ctx); err != nil {
			return closeAll(sinks), fmt.Errorf("database sink: %w", err)
		}
		sinks = append(sinks, namedSink{name: "database", sink: s})
	}

	if cfg.Files.Enabled {
		s, err := file.New(fileOptions(cfg.Files))
		if err != nil {
			return closeAll(sinks), fmt.Errorf("file sink: %w", err)
		}
		sinks = append(sinks, namedSink{name: "file", sink: s})
	}

	return sinks, nil
}

func consoleOptions(cfg config.Console) console.Options {
	return console.Options{
		Format:         cfg.Format,
		ProjectStyle:   cfg.ProjectStyle,
		TimestampStyle: cfg.TimestampStyle,
		LevelStyles: map[logfan.Level]string{
			logfan.LevelInfo:    cfg.LevelStyles.Info,
			logfan.LevelWarning: cfg.LevelStyles.Warning,
			logfan.LevelError:   cfg.LevelStyles.Error,
			logfan.LevelFatal:   cfg.LevelStyles.Fatal,
			logfan.LevelDebug:   cfg.LevelStyles.Debug,
			logfan.LevelAlert:   cfg.LevelStyles.Alert,
			logfan.LevelUnknown: cfg.LevelStyles.Unknown,
		},
		ModuleStyle:   cfg.ModuleStyle,
		FunctionStyle: cfg.FunctionStyle,
		MessageStyle:  cfg.MessageStyle,
		CodeStyle:     cfg.CodeStyle,
		TimeFormat:    cfg.TimeFormat,
		TimeZone:      cfg.TimeZone,
		Logger:        diag.New("console"),
	}
}

func fileOptions(cfg config.Files) file.Options {
	return file.Options{
		SharedDirectory:  cfg.SharedDirectory,
		ProjectDirectory: cfg.ProjectDirectory,
		Filename:         cfg.Filename,
		DateFileFormat:   cfg.DateFileFormat,
		DateLogFormat:    cfg.DateLogFormat,
		TimeZone:         cfg.DateTimezone,
		LineFormat:       cfg.LogFormat,
		Rotation: file.Rotation{
			Trigger: cfg.Rotation.Trigger,
			Time:    time.Duration(cfg.Rotation.Time) * time.Second,
			Daily:   cfg.Rotation.Daily,
			Size:    cfg.Rotation.Size,
			Lines:   cfg.Rotation.Lines,
		},
		Archive: file.Archive{
			Enabled:          cfg.Archive.Enabled,
			Type:             archive.Type(cfg.Archive.Type),
			CompressionLevel: cfg.Archive.CompressionLevel,
			Directory:        cfg.Archive.Directory,
			Trigger:          cfg.Archive.Trigger,
			Count:            cfg.Archive.Count,
			Age:              time.Duration(cfg.Archive.Age) * time.Second,
		},
		Logger: diag.New("files"),
	}
}

// closeAll unwinds already-built sinks when a later one fails.
func closeAll(sinks []namedSink) []namedSink {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range sinks {
		s.sink.Close(ctx)
	}
	return nil
}
