package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzAlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyzAllPass(t *testing.T) {
	h := New(
		Checker{Name: "keyword", Check: func(context.Context) error { return nil }},
		Checker{Name: "vector", Check: func(context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" || body.Checks["keyword"] != "ok" || body.Checks["vector"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyzRequiredFails(t *testing.T) {
	h := New(
		Checker{Name: "keyword", Check: func(context.Context) error {
			return errors.New("database locked")
		}},
		Checker{Name: "vector", Check: func(context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if body.Checks["keyword"] != "fail: database locked" {
		t.Errorf("keyword check = %q", body.Checks["keyword"])
	}
	if body.Checks["vector"] != "ok" {
		t.Errorf("vector check = %q", body.Checks["vector"])
	}
}

func TestReadyzOptionalDegrades(t *testing.T) {
	h := New(
		Checker{Name: "keyword", Check: func(context.Context) error { return nil }},
		Checker{Name: "graph", Optional: true, Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, optional failure must not fail readiness", rec.Code)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Checks["graph"] != "degraded: connection refused" {
		t.Errorf("graph check = %q", body.Checks["graph"])
	}
}

func TestReadyzRequiredFailureOutranksDegraded(t *testing.T) {
	h := New(
		Checker{Name: "graph", Optional: true, Check: func(context.Context) error {
			return errors.New("down")
		}},
		Checker{Name: "keyword", Check: func(context.Context) error {
			return errors.New("down")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCountChecker(t *testing.T) {
	ok := CountChecker("keyword", false, func(context.Context) (int, error) { return 7, nil })
	if err := ok.Check(context.Background()); err != nil {
		t.Errorf("healthy backend: %v", err)
	}
	bad := CountChecker("vector", true, func(context.Context) (int, error) {
		return 0, errors.New("unreachable")
	})
	if err := bad.Check(context.Background()); err == nil {
		t.Error("unreachable backend reported healthy")
	}
	if !bad.Optional {
		t.Error("Optional not carried")
	}
}

func TestRegisterRoutes(t *testing.T) {
	h := New(Checker{Name: "keyword", Check: func(context.Context) error { return nil }})
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestReadyzRespectsCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
