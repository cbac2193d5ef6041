package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blueberrycongee/convostore"
	"github.com/blueberrycongee/convostore/internal/config"
	"github.com/blueberrycongee/convostore/internal/docdb/memdb"
	"github.com/blueberrycongee/convostore/internal/healthcheck"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeStatus struct{}

func (fakeStatus) Status() config.Status {
	return config.Status{Path: "/etc/convostore.yaml", Checksum: "abc", LoadedAt: time.Unix(0, 0), ReloadCount: 2}
}

func serve(mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestBuildMux_Health(t *testing.T) {
	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"}}

	mux := buildMux(cfg, fakePinger{}, fakeStatus{}, nil)
	if rec := serve(mux, http.MethodGet, "/health/live"); rec.Code != http.StatusOK {
		t.Fatalf("live status = %d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/health/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}

	down := buildMux(cfg, fakePinger{err: errors.New("no primary")}, nil, nil)
	rec := serve(down, http.MethodGet, "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no primary") {
		t.Fatalf("body %q does not carry the ping error", rec.Body.String())
	}
}

func TestBuildMux_ConfigStatus(t *testing.T) {
	mux := buildMux(&config.Config{}, fakePinger{}, fakeStatus{}, nil)
	rec := serve(mux, http.MethodGet, "/config/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"reload_count":2`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestBuildMux_MetricsToggle(t *testing.T) {
	on := buildMux(&config.Config{Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"}}, fakePinger{}, nil, nil)
	if rec := serve(on, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}

	off := buildMux(&config.Config{}, fakePinger{}, nil, nil)
	if rec := serve(off, http.MethodGet, "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics status = %d, want 404", rec.Code)
	}
}

func TestBuildMux_ReadinessFromProber(t *testing.T) {
	s, err := convostore.New(
		convostore.WithMongo("mongodb://localhost:27017", "convostore_test"),
		convostore.WithDatabase(memdb.New()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = s.Close(context.Background()) }()

	prober := newProber(s, healthcheck.Config{}, nil)
	mux := buildMux(&config.Config{}, s, nil, prober)
	if rec := serve(mux, http.MethodGet, "/health/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before first probe = %d, want 503", rec.Code)
	}

	prober.RunOnce(context.Background())
	rec := serve(mux, http.MethodGet, "/health/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"name":"storage"`) {
		t.Fatalf("body %q does not list the storage probe", rec.Body.String())
	}
}
