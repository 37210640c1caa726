package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func reset(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() {
		mu.Lock()
		logger = nil
		mu.Unlock()
		slog.SetDefault(prev)
	})
}

func decodeLines(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestSetupWithWriter_JSON(t *testing.T) {
	reset(t)

	var buf bytes.Buffer
	SetupWithWriter(&buf, "DEBUG", "json")
	Get().Debug("debug line", "k", "v")

	rec := decodeLines(t, buf.String())[0]
	if rec["msg"] != "debug line" || rec["k"] != "v" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestSetupWithWriter_ReplacesPrevious(t *testing.T) {
	reset(t)

	var first, second bytes.Buffer
	SetupWithWriter(&first, "info", "json")
	SetupWithWriter(&second, "warn", "text")

	Get().Info("hidden")
	slog.Warn("shown")

	if first.Len() != 0 {
		t.Errorf("first writer should be unused, got %q", first.String())
	}
	got := second.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("info record should be filtered at WARN, got %q", got)
	}
	if !strings.Contains(got, "msg=shown") {
		t.Errorf("expected text record via slog default, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFieldHelpers(t *testing.T) {
	reset(t)

	var buf bytes.Buffer
	SetupWithWriter(&buf, "info", "json")

	WithComponent("vision").Info("a")
	WithBackend("billboard").Info("b")
	ForJob(WithComponent("orchestrator"), "job-123", "subprocess").Info("c")

	recs := decodeLines(t, buf.String())
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0]["component"] != "vision" {
		t.Errorf("component = %v", recs[0]["component"])
	}
	if recs[1]["backend"] != "billboard" {
		t.Errorf("backend = %v", recs[1]["backend"])
	}
	if recs[2]["job_id"] != "job-123" || recs[2]["backend"] != "subprocess" || recs[2]["component"] != "orchestrator" {
		t.Errorf("job record = %v", recs[2])
	}
}
