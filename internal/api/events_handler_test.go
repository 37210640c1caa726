package api

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sketchar/internal/events"
)

func readSSEFrame(t *testing.T, sc *bufio.Scanner) map[string]string {
	t.Helper()
	frame := map[string]string{}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(frame) > 0 {
				return frame
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		k, v, _ := strings.Cut(line, ": ")
		frame[k] = v
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return nil
}

func TestHandleEvents_ReplaysAndStreams(t *testing.T) {
	srv := newTestServer(&fakeGenerator{}, nil, nil)
	srv.events.Publish(events.JobStarted, events.JobPayload{JobID: "job-1", Backend: "billboard"})

	ts := httptest.NewServer(srv.setupRoutes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	sc := bufio.NewScanner(resp.Body)

	first := readSSEFrame(t, sc)
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, events.JobStarted, first["event"])
	assert.Contains(t, first["data"], `"job_id":"job-1"`)

	require.Eventually(t, func() bool { return srv.events.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.events.Publish(events.JobSucceeded, events.JobPayload{JobID: "job-1", ModelURL: "/generated_models/output.glb"})

	second := readSSEFrame(t, sc)
	assert.Equal(t, "2", second["id"])
	assert.Equal(t, events.JobSucceeded, second["event"])
	assert.Contains(t, second["data"], `"model_url":"/generated_models/output.glb"`)
}

func TestHandleEvents_LastEventIDSkipsSeen(t *testing.T) {
	srv := newTestServer(&fakeGenerator{}, nil, nil)
	srv.events.Publish(events.JobStarted, events.JobPayload{JobID: "a"})
	srv.events.Publish(events.JobFailed, events.JobPayload{JobID: "a", ErrorKind: "timeout"})

	ts := httptest.NewServer(srv.setupRoutes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	frame := readSSEFrame(t, bufio.NewScanner(resp.Body))
	assert.Equal(t, "2", frame["id"])
	assert.Equal(t, events.JobFailed, frame["event"])
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}

func TestSSEStreamSkipsAlreadySentIDs(t *testing.T) {
	var buf bytes.Buffer
	st := &sseStream{w: &buf, flush: func() {}, lastID: 2}

	require.NoError(t, st.send(events.Event{ID: 2, Type: events.JobStarted, Data: []byte(`{}`)}))
	assert.Empty(t, buf.String())

	require.NoError(t, st.send(events.Event{ID: 3, Type: events.JobFailed, Data: []byte(`{"job_id":"a"}`)}))
	assert.Equal(t, "id: 3\nevent: job.failed\ndata: {\"job_id\":\"a\"}\n\n", buf.String())
	assert.Equal(t, int64(3), st.lastID)
}
