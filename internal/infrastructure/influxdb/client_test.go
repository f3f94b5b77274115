package influxdb_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu       sync.Mutex
	lines    []string
	bucket   string
	rejectAt int // reject writes once this many lines arrived; 0 never
}

func (f *fakeInflux) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Influxdb-Version", "v2.7.0")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Head("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Influxdb-Version", "v2.7.0")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/v2/write", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		if f.rejectAt > 0 && len(f.lines) >= f.rejectAt {
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":"invalid","message":"unable to parse points"}`)
			return
		}
		f.bucket = req.URL.Query().Get("bucket")
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (f *fakeInflux) snapshot() ([]string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...), f.bucket
}

// waitLines polls until n lines arrived.
func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		lines, _ := f.snapshot()
		if len(lines) >= n {
			return lines
		}
		time.Sleep(20 * time.Millisecond)
	}
	lines, _ := f.snapshot()
	t.Fatalf("received %d lines, want %d: %v", len(lines), n, lines)
	return nil
}

func startFake(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "matrix",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

// errorLog records what the client reports through Logger.
type errorLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *errorLog) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg+" "+fmt.Sprint(args...))
}

func (l *errorLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func connect(t *testing.T, cfg config.InfluxDBConfig, logger influxdb.Logger) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg, logger)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	_, cfg := startFake(t)
	client := connect(t, cfg, nil)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, cfg := startFake(t)
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg, nil); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, cfg := startFake(t)
	cfg.URL = "http://127.0.0.1:1"

	if _, err := influxdb.Connect(cfg, nil); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	fake, cfg := startFake(t)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client := connect(t, cfg, nil)
	client.WriteEventMetric("av-rack", "update")

	// A 100 point batch is not full yet, so only Close sends it.
	time.Sleep(100 * time.Millisecond)
	if lines, _ := fake.snapshot(); len(lines) != 0 {
		t.Errorf("point sent before the batch filled: %v", lines)
	}
	client.Close()
	fake.waitLines(t, 1)
}

func TestHealthCheck_CancelledContext(t *testing.T) {
	_, cfg := startFake(t)
	client := connect(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should fail for a cancelled context")
	}
}

func TestClose(t *testing.T) {
	fake, cfg := startFake(t)
	client, err := influxdb.Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	client.WriteRouteMetric("av-rack", 1, 2)
	time.Sleep(50 * time.Millisecond)
	if lines, _ := fake.snapshot(); len(lines) != 0 {
		t.Errorf("write after Close reached the server: %v", lines)
	}
}

func TestClose_ZeroClient(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() on zero client error = %v, want ErrNotConnected", err)
	}
	client.WriteEventMetric("av-rack", "update")
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteMatrixMetrics(t *testing.T) {
	fake, cfg := startFake(t)
	log := &errorLog{}
	client := connect(t, cfg, log)

	client.WriteRouteMetric("av-rack", 1, 3)
	client.WriteConnectionMetric("av-rack", "telnet", false)
	client.WriteEventMetric("av-rack", "update")

	lines := fake.waitLines(t, 3)
	_, bucket := fake.snapshot()
	if bucket != "matrix" {
		t.Errorf("bucket = %q, want matrix", bucket)
	}

	wantPrefixes := []string{
		"matrix_route,matrix_id=av-rack,output=1 input=3i ",
		"matrix_connection,matrix_id=av-rack,transport=telnet connected=false ",
		"matrix_event,matrix_id=av-rack,type=update count=1i ",
	}
	for _, want := range wantPrefixes {
		found := false
		for _, line := range lines {
			if strings.HasPrefix(line, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no line with prefix %q in %v", want, lines)
		}
	}
	if n := log.count(); n != 0 {
		t.Errorf("%d write errors logged for accepted points", n)
	}
}

func TestWriteErrorsLogged(t *testing.T) {
	fake, cfg := startFake(t)
	fake.mu.Lock()
	fake.rejectAt = 1
	fake.mu.Unlock()
	log := &errorLog{}
	client := connect(t, cfg, log)

	client.WriteRouteMetric("av-rack", 1, 3)
	fake.waitLines(t, 1)
	client.WriteRouteMetric("av-rack", 2, 4)

	deadline := time.Now().Add(3 * time.Second)
	for log.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if log.count() == 0 {
		t.Fatal("rejected batch was not logged")
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if !strings.Contains(log.msgs[0], "InfluxDB write failed") || !strings.Contains(log.msgs[0], "matrix") {
		t.Errorf("logged %q", log.msgs[0])
	}
}
