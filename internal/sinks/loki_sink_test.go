package sinks

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeLoki decodifica os pushes recebidos
type fakeLoki struct {
	mu       sync.Mutex
	payloads []LokiPayload
	headers  []http.Header
	status   int
}

func (f *fakeLoki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer zr.Close()
		reader = zr
	}

	var payload LokiPayload
	if err := json.NewDecoder(reader).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.headers = append(f.headers, r.Header.Clone())
	status := f.status
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (f *fakeLoki) lines() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string][]string)
	for _, p := range f.payloads {
		for _, s := range p.Streams {
			for _, v := range s.Values {
				out[s.Stream["level"]] = append(out[s.Stream["level"]], v[1])
			}
		}
	}
	return out
}

func TestLokiSinkFlushesOnCloseAndGroupsByLevel(t *testing.T) {
	defer goleak.VerifyNone(t)

	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	sink, err := NewLokiSink("loki_main", types.LokiSinkConfig{
		URL:          server.URL,
		TenantID:     "team-a",
		Labels:       map[string]string{"app": "etl", "bad-label": "x"},
		BatchSize:    100,
		BatchTimeout: "1h",
	}, newTestLogger())
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	sink.Write(types.InfoLevel, []byte("started\n"))
	sink.Write(types.ErrorLevel, []byte("boom"))
	sink.Write(types.InfoLevel, []byte("finished"))

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := loki.lines()
	if len(lines["info"]) != 2 || lines["info"][0] != "started" || lines["info"][1] != "finished" {
		t.Errorf("Unexpected info stream: %v", lines["info"])
	}
	if len(lines["error"]) != 1 || lines["error"][0] != "boom" {
		t.Errorf("Unexpected error stream: %v", lines["error"])
	}

	loki.mu.Lock()
	defer loki.mu.Unlock()
	if len(loki.payloads) != 1 {
		t.Fatalf("Expected one push, got %d", len(loki.payloads))
	}
	stream := loki.payloads[0].Streams[0].Stream
	if stream["app"] != "etl" || stream["bad_label"] != "x" || stream["handler"] != "loki_main" {
		t.Errorf("Unexpected labels: %v", stream)
	}
	if loki.headers[0].Get("X-Scope-OrgID") != "team-a" {
		t.Errorf("Expected tenant header, got %q", loki.headers[0].Get("X-Scope-OrgID"))
	}
	if sink.Sent() != 3 {
		t.Errorf("Expected 3 sent entries, got %d", sink.Sent())
	}
}

func TestLokiSinkFlushesWhenBatchIsFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	sink, err := NewLokiSink("loki", types.LokiSinkConfig{URL: server.URL, BatchSize: 2, BatchTimeout: "1h"}, newTestLogger())
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer sink.Close()

	sink.Write(types.InfoLevel, []byte("a"))
	sink.Write(types.InfoLevel, []byte("b"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.Sent() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.Sent() != 2 {
		t.Errorf("Expected batch to be pushed without waiting for the timer, sent=%d", sink.Sent())
	}
}

func TestLokiSinkCountsFailedPushes(t *testing.T) {
	defer goleak.VerifyNone(t)

	loki := &fakeLoki{status: http.StatusInternalServerError}
	server := httptest.NewServer(loki)
	defer server.Close()

	sink, err := NewLokiSink("loki", types.LokiSinkConfig{URL: server.URL, BatchTimeout: "1h"}, newTestLogger())
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	sink.Write(types.WarningLevel, []byte("lost"))
	sink.Close()

	if sink.Dropped() != 1 {
		t.Errorf("Expected 1 dropped entry, got %d", sink.Dropped())
	}
	if err := sink.Write(types.InfoLevel, []byte("late")); err == nil {
		t.Error("Expected write after close to fail")
	}
}

func TestLokiSinkRejectsInvalidConfig(t *testing.T) {
	if _, err := NewLokiSink("loki", types.LokiSinkConfig{}, newTestLogger()); err == nil {
		t.Error("Expected missing url to fail")
	}
	if _, err := NewLokiSink("loki", types.LokiSinkConfig{URL: "http://x", BatchTimeout: "soon"}, newTestLogger()); err == nil {
		t.Error("Expected invalid batch timeout to fail")
	}
}

func TestSanitizeLabelName(t *testing.T) {
	cases := map[string]string{
		"app":        "app",
		"bad-label":  "bad_label",
		"9lives":     "_lives",
		"service.v2": "service_v2",
	}
	for in, expected := range cases {
		if got := sanitizeLabelName(in); got != expected {
			t.Errorf("sanitizeLabelName(%q) = %q, expected %q", in, got, expected)
		}
	}
}
