package consumer

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/user/logfan"
	"github.com/user/logfan/internal/config"
	"github.com/user/logfan/pkg/diag"
)

const validBody = `{"project":"home_logger","timestamp":"2023-10-15T12:34:56Z","level":"info","module":"auth","function":"login","message":"User logged in successfully.","code":123}`

type spySink struct {
	writes []string
	fail   bool
	closed bool
}

func (s *spySink) Write(ctx context.Context, rec *logfan.Record) error {
	s.writes = append(s.writes, rec.Project)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *spySink) Ping(ctx context.Context) error  { return nil }
func (s *spySink) Close(ctx context.Context) error { s.closed = true; return nil }

type spyAcker struct {
	acked bool
}

func (a *spyAcker) Ack(tag uint64, multiple bool) error          { a.acked = true; return nil }
func (a *spyAcker) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (a *spyAcker) Reject(tag uint64, requeue bool) error         { return nil }

func newConsumer(t *testing.T) *Consumer {
	t.Helper()
	m, err := config.NewManager(t.TempDir()+"/config.json", config.Default(), diag.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return New(m, diag.Nop())
}

func delivery(body string) (amqp.Delivery, *spyAcker) {
	acker := &spyAcker{}
	return amqp.Delivery{Acknowledger: acker, Body: []byte(body)}, acker
}

func TestHandleRecordFansOutAndAcks(t *testing.T) {
	c := newConsumer(t)
	a := &spySink{}
	b := &spySink{}
	d, acker := delivery(validBody)

	c.handleRecord(context.Background(), d, []namedSink{{"a", a}, {"b", b}})

	if len(a.writes) != 1 || len(b.writes) != 1 {
		t.Errorf("writes = %d, %d; want 1, 1", len(a.writes), len(b.writes))
	}
	if !acker.acked {
		t.Error("delivery not acked after fan-out")
	}
}

func TestHandleRecordIsolatesSinkFailures(t *testing.T) {
	c := newConsumer(t)
	failing := &spySink{fail: true}
	healthy := &spySink{}
	d, acker := delivery(validBody)

	c.handleRecord(context.Background(), d, []namedSink{{"bad", failing}, {"good", healthy}})

	if len(healthy.writes) != 1 {
		t.Error("failing sink blocked the healthy one")
	}
	if !acker.acked {
		t.Error("delivery not acked despite a sink failure")
	}
}

func TestHandleRecordDropsInvalidAndAcks(t *testing.T) {
	c := newConsumer(t)
	s := &spySink{}
	d, acker := delivery(`{"project":"x"}`)

	c.handleRecord(context.Background(), d, []namedSink{{"s", s}})

	if len(s.writes) != 0 {
		t.Error("invalid record reached a sink")
	}
	if !acker.acked {
		t.Error("invalid delivery not acked")
	}
}

func TestHandleControl(t *testing.T) {
	c := newConsumer(t)

	tests := []struct {
		name       string
		body       string
		wantReload bool
	}{
		{"reload by code", `{"code":100,"detail":"x","data":{"rabbitmq":{"queue":"q2"}}}`, true},
		{"reload by detail", `{"code":7,"detail":"Update config","data":{}}`, true},
		{"reserved code", `{"code":200,"detail":"Stats"}`, false},
		{"garbage", `not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, acker := delivery(tt.body)
			reload, _ := c.handleControl(d)
			if reload != tt.wantReload {
				t.Errorf("reload = %v, want %v", reload, tt.wantReload)
			}
			if !acker.acked {
				t.Error("control delivery not acked")
			}
		})
	}
}

func TestHandleControlCarriesConfigDocument(t *testing.T) {
	c := newConsumer(t)
	d, _ := delivery(`{"code":100,"detail":"Update config","data":{"rabbitmq":{"queue":"next"}}}`)

	reload, data := c.handleControl(d)
	if !reload {
		t.Fatal("reload signal not recognized")
	}
	cfg, err := config.Parse(data)
	if err != nil {
		t.Fatalf("reload payload not a config document: %v", err)
	}
	if cfg.RabbitMQ.Queue != "next" {
		t.Errorf("queue = %q, want next", cfg.RabbitMQ.Queue)
	}
}

func TestBuildSinksHonorsEnabledFlags(t *testing.T) {
	c := newConsumer(t)

	cfg := config.Default()
	cfg.Console.Enabled = true
	cfg.TimescaleDB.Enabled = false
	cfg.Files.Enabled = true
	cfg.Files.SharedDirectory = t.TempDir()

	sinks, err := c.buildSinks(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildSinks() error = %v", err)
	}
	defer closeAll(sinks)

	if len(sinks) != 2 {
		t.Fatalf("got %d sinks, want 2", len(sinks))
	}
	names := map[string]bool{}
	for _, s := range sinks {
		names[s.name] = true
	}
	if !names["console"] || !names["file"] {
		t.Errorf("sinks = %v", names)
	}
}

func TestBuildSinksAllDisabled(t *testing.T) {
	c := newConsumer(t)

	cfg := config.Default()
	cfg.Console.Enabled = false
	cfg.TimescaleDB.Enabled = false
	cfg.Files.Enabled = false

	sinks, err := c.buildSinks(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildSinks() error = %v", err)
	}
	if len(sinks) != 0 {
		t.Errorf("got %d sinks, want none", len(sinks))
	}
}

func TestConnectionLossLeavesSinksLive(t *testing.T) {
	c := newConsumer(t)
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Console.Enabled = false
	cfg.TimescaleDB.Enabled = false
	cfg.Files.Enabled = true
	cfg.Files.SharedDirectory = dir

	sinks, err := c.buildSinks(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildSinks() error = %v", err)
	}
	c.sinks = sinks

	d, _ := delivery(validBody)
	c.handleRecord(context.Background(), d, c.sinks)

	// A dropped connection closes the delivery channels. serve reports
	// the failure and the run loop tears down only the broker session.
	logs := make(chan amqp.Delivery)
	close(logs)
	sess := &session{logs: logs, control: make(chan amqp.Delivery)}
	reload, _, serveErr := c.serve(context.Background(), sess)
	if reload || serveErr == nil {
		t.Fatalf("serve() = reload %v, err %v; want a transport failure", reload, serveErr)
	}
	c.closeBroker(sess)

	if c.sinks == nil {
		t.Fatal("sinks discarded on a transport failure")
	}
	files, err := filepath.Glob(filepath.Join(dir, "home_logger", "*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d log files, want 1", len(files))
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "LOG FILE END") {
		t.Error("active file footered by a transport failure")
	}

	// The next session appends to the same file.
	d, _ = delivery(validBody)
	c.handleRecord(context.Background(), d, c.sinks)

	c.closeSinks()
	if c.sinks != nil {
		t.Error("sinks kept after closeSinks")
	}
	files, err = filepath.Glob(filepath.Join(dir, "home_logger", "*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d log files after shutdown, want 1", len(files))
	}
	data, err = os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "LOG FILE END"); got != 1 {
		t.Errorf("footer written %d times, want 1", got)
	}
	if got := strings.Count(string(data), "User logged in successfully."); got != 2 {
		t.Errorf("file holds %d records across sessions, want 2", got)
	}
}

// closedPort grabs a free port and releases it so nothing listens
// there.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestRunStopsAfterRepeatedStartFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Console.Enabled = false
	cfg.TimescaleDB.Enabled = false
	cfg.Files.Enabled = false
	cfg.RabbitMQ.Host = "127.0.0.1"
	cfg.RabbitMQ.Port = closedPort(t)

	m, err := config.NewManager(t.TempDir()+"/config.json", cfg, diag.Nop())
	if err != nil {
		t.Fatal(err)
	}
	c := New(m, diag.Nop())
	c.retryDelay = time.Millisecond

	err = c.Run(context.Background())
	if err == nil {
		t.Fatal("Run() returned nil with an unreachable broker")
	}
	var se *StartError
	if !errors.As(err, &se) {
		t.Errorf("Run() error = %v, want a StartError", err)
	}
	if c.State() != Stopped {
		t.Errorf("state after Run = %v, want stopped", c.State())
	}
}

func TestStateString(t *testing.T) {
	c := newConsumer(t)
	if c.State() != Stopped {
		t.Errorf("initial state = %v", c.State())
	}
	for s, want := range map[State]string{
		Stopped:   "stopped",
		Starting:  "starting",
		Running:   "running",
		Reloading: "reloading",
		Stopping:  "stopping",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
