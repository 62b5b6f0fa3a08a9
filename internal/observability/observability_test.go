package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// --- Shutdown Coordinator ---

func TestShutdownCoordinatorLIFO(t *testing.T) {
	var order []int
	sc := &ShutdownCoordinator{}
	for i := 1; i <= 3; i++ {
		sc.Register(fmt.Sprintf("h%d", i), func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(order) != "[3 2 1]" {
		t.Fatalf("expected LIFO [3 2 1], got %v", order)
	}
}

func TestShutdownCoordinatorRunsOnce(t *testing.T) {
	calls := 0
	sc := &ShutdownCoordinator{}
	sc.Register("once", func(ctx context.Context) error {
		calls++
		return nil
	})

	_ = sc.Shutdown(context.Background())
	_ = sc.Shutdown(context.Background())
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestShutdownCoordinatorError(t *testing.T) {
	var order []int
	boom := errors.New("fail")
	sc := &ShutdownCoordinator{}
	sc.Register("first", func(ctx context.Context) error {
		order = append(order, 1)
		return nil
	})
	sc.Register("bad", func(ctx context.Context) error {
		order = append(order, 2)
		return boom
	})
	sc.Register("third", func(ctx context.Context) error {
		order = append(order, 3)
		return nil
	})

	err := sc.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want it to wrap %v", err, boom)
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error should mention 'bad': %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("expected all 3 handlers to run, got %v", order)
	}
}

// --- Metrics ---

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	m.OperationTotal.WithLabelValues("test_op", "ok").Inc()
	m.AddBytes("in", 128)
	m.RecordError("sharestore.write", "size_limit_exceeded")

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("test_op", "ok")); got != 1 {
		t.Fatalf("operation count = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesProcessed.WithLabelValues("in")); got != 128 {
		t.Fatalf("bytes in = %f, want 128", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sharestore.write", "size_limit_exceeded")); got != 1 {
		t.Fatalf("errors = %f, want 1", got)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "shares_") {
			t.Errorf("metric %q lacks the shares_ prefix", f.GetName())
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.AddBytes("out", 10)
	m.RecordError("op", "kind")

	op, _ := StartOperation(context.Background(), nil, "nil_metrics")
	op.End(errors.New("boom"))
}

// --- Logging ---

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("info", "json", &buf)

	logger.Info("hello", "key", "val")

	var entry map[string]any
	if err := json.NewDecoder(&buf).Decode(&entry); err != nil {
		t.Fatalf("output not valid JSON: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["key"] != "val" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestSetupLoggerText(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger("info", "text", &buf)

	slog.Info("testmsg")

	out := buf.String()
	if !strings.Contains(out, "INF testmsg") {
		t.Fatalf("expected 'INF testmsg' in output: %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("non-terminal writer got color codes: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level      string
		logAt      slog.Level
		shouldShow bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelWarn, false},
		{"error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.level, tt.logAt), func(t *testing.T) {
			var buf bytes.Buffer
			logger := SetupLogger(tt.level, "json", &buf)

			logger.Log(context.Background(), tt.logAt, "test")

			if got := buf.Len() > 0; got != tt.shouldShow {
				t.Fatalf("level=%s logAt=%s: expected visible=%v got %v", tt.level, tt.logAt, tt.shouldShow, got)
			}
		})
	}
}

// --- PrettyHandler ---

func TestPrettyHandlerEnabled(t *testing.T) {
	h := NewPrettyHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn should be enabled at warn level")
	}

	def := NewPrettyHandler(io.Discard, nil)
	if def.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled with the default level")
	}
}

func TestPrettyHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.With("backend", "fs").WithGroup("share").Info("stored", "num", 3)

	out := buf.String()
	for _, want := range []string{"stored", "backend=fs", "share.num=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output: %q", want, out)
		}
	}
}

func TestLevelLabel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "DBG"},
		{slog.LevelInfo, "INF"},
		{slog.LevelWarn, "WRN"},
		{slog.LevelError, "ERR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := levelLabel(tt.level, false); got != tt.want {
				t.Fatalf("levelLabel(%v, false) = %q", tt.level, got)
			}
			colored := levelLabel(tt.level, true)
			if !strings.Contains(colored, tt.want) || !strings.Contains(colored, "\033[") {
				t.Fatalf("levelLabel(%v, true) = %q", tt.level, colored)
			}
		})
	}
}

func TestTraceHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	h := &TraceHandler{Handler: slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})}

	traceID, _ := trace.TraceIDFromHex("00000000000000000000000000000001")
	spanID, _ := trace.SpanIDFromHex("0000000000000001")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	slog.New(h).With("a", 1).WithGroup("g").InfoContext(ctx, "traced message")

	out := buf.String()
	if !strings.Contains(out, "trace_id") || !strings.Contains(out, "span_id") {
		t.Fatalf("expected trace_id and span_id in output: %s", out)
	}
}

// --- Operation ---

func TestStartOperationEnd(t *testing.T) {
	m := NewMetrics()

	op, ctx := StartOperation(context.Background(), m, "test_op", attribute.String("k", "v"))
	if ctx == nil || op.Name() != "test_op" {
		t.Fatal("StartOperation returned an unusable operation")
	}
	op.End(nil)

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("test_op", "ok")); got != 1 {
		t.Fatalf("expected 1 ok operation, got %f", got)
	}
	if n := testutil.CollectAndCount(m.OperationDuration, "shares_operation_duration_seconds"); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestStartOperationEndError(t *testing.T) {
	m := NewMetrics()

	op, _ := StartOperation(context.Background(), m, "fail_op")
	op.End(errors.New("boom"))

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("fail_op", "error")); got != 1 {
		t.Fatalf("expected 1 error operation, got %f", got)
	}
	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("fail_op", "ok")); got != 0 {
		t.Fatalf("expected 0 ok operations, got %f", got)
	}
}

func TestEndSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "end-no-err")
	EndSpan(span, nil)

	_, span = StartSpan(context.Background(), "end-with-err", attribute.Int("n", 42))
	EndSpan(span, errors.New("boom"))
}

// --- HTTP middleware ---

func TestHTTPMiddlewareCountsStatus(t *testing.T) {
	m := NewMetrics()
	h := HTTPMiddleware(m, "GET /shares/{si}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("missing") != "" {
			http.Error(w, "share not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, target := range []string{"/shares/x", "/shares/x?missing=1", "/shares/y"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("traceparent", "00-00000000000000000000000000000001-0000000000000001-01")
		h.ServeHTTP(rec, req)
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET /shares/{si}", "200")); got != 2 {
		t.Fatalf("200 count = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET /shares/{si}", "404")); got != 1 {
		t.Fatalf("404 count = %f, want 1", got)
	}
}

func TestHTTPMiddlewareNilMetrics(t *testing.T) {
	h := HTTPMiddleware(nil, "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}

// --- Observability ---

func newTestObservability(t *testing.T) *Observability {
	t.Helper()
	obs, err := New(context.Background(), ObsConfig{
		LogLevel:       "error",
		LogFormat:      "json",
		ServiceName:    "test",
		ServiceVersion: "0.0.1",
	}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return obs
}

func TestNewObservabilityNoOTLP(t *testing.T) {
	obs := newTestObservability(t)
	if obs.Logger == nil || obs.Metrics == nil {
		t.Fatal("logger or metrics is nil")
	}
	switch obs.TracerProvider.(type) {
	case *tracenoop.TracerProvider, tracenoop.TracerProvider:
	default:
		t.Fatalf("expected noop tracer provider, got %T", obs.TracerProvider)
	}
}

func TestNewObservabilityWithOTLP(t *testing.T) {
	for _, proto := range []string{"http", "grpc"} {
		t.Run(proto, func(t *testing.T) {
			obs, err := New(context.Background(), ObsConfig{
				LogLevel:     "info",
				LogFormat:    "json",
				OTLPEndpoint: "localhost:4318",
				OTLPProtocol: proto,
				SampleRatio:  0.5,
				ServiceName:  "test",
			}, io.Discard)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if obs.sdkTP == nil {
				t.Fatal("expected non-nil sdkTP when OTLP enabled")
			}
			if err := obs.Close(context.Background()); err != nil {
				t.Fatalf("unexpected close error: %v", err)
			}
		})
	}
}

func TestObservabilityCloseError(t *testing.T) {
	obs := newTestObservability(t)
	obs.Shutdown.Register("fail-close", func(ctx context.Context) error {
		return errors.New("close fail")
	})
	if err := obs.Close(context.Background()); err == nil {
		t.Fatal("expected error from Close")
	}
}

func TestServeEndpoints(t *testing.T) {
	obs := newTestObservability(t)
	obs.Metrics.AddBytes("in", 1)
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("api:" + r.URL.Path))
	})

	addr, err := obs.Serve("127.0.0.1:0", api)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = obs.Close(context.Background()) })

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get("http://" + addr.String() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := get("/health"); code != http.StatusOK || body != "OK" {
		t.Fatalf("/health = %d %q", code, body)
	}
	if code, body := get("/metrics"); code != http.StatusOK || !strings.Contains(body, "shares_") {
		t.Fatalf("/metrics = %d, body lacks shares_ metrics", code)
	}
	if code, body := get("/shares/abc"); code != http.StatusOK || body != "api:/shares/abc" {
		t.Fatalf("/shares/abc = %d %q", code, body)
	}
}

func TestServeBadAddress(t *testing.T) {
	obs := newTestObservability(t)
	if _, err := obs.Serve("256.0.0.1:bad", nil); err == nil {
		t.Fatal("expected listen error")
	}
}
