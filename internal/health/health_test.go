package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func readyzBody(t *testing.T, rec *httptest.ResponseRecorder) readiness {
	t.Helper()
	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "pipeline", Check: failWith("stopped")})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even with failing checks", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body liveness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "alive" || body.Uptime == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantReady  bool
		wantErrs   []string // per checker, "" for pass
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "pipeline", Check: pass}, {Name: "stt", Check: pass}},
			wantStatus: http.StatusOK,
			wantReady:  true,
			wantErrs:   []string{"", ""},
		},
		{
			name:       "breaker open",
			checkers:   []Checker{{Name: "pipeline", Check: pass}, {Name: "tts", Check: failWith("circuit open")}},
			wantStatus: http.StatusServiceUnavailable,
			wantErrs:   []string{"", "circuit open"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{Name: "pipeline", Check: failWith("not running")}, {Name: "stt", Check: failWith("circuit open")}},
			wantStatus: http.StatusServiceUnavailable,
			wantErrs:   []string{"not running", "circuit open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := readyzBody(t, rec)
			if body.Ready != tt.wantReady {
				t.Errorf("ready = %v, want %v", body.Ready, tt.wantReady)
			}
			if len(body.Checks) != len(tt.checkers) {
				t.Fatalf("got %d checks, want %d", len(body.Checks), len(tt.checkers))
			}
			for i, p := range body.Checks {
				if p.Name != tt.checkers[i].Name {
					t.Errorf("check %d name = %q, want registration order", i, p.Name)
				}
				if p.OK != (tt.wantErrs[i] == "") || p.Error != tt.wantErrs[i] {
					t.Errorf("check %s = %+v, want error %q", p.Name, p, tt.wantErrs[i])
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	start := time.Now()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if elapsed := time.Since(start); elapsed >= 300*time.Millisecond {
		t.Errorf("checks took %v, expected them to overlap", elapsed)
	}
	for _, p := range readyzBody(t, rec).Checks {
		if p.DurationMs < 100 {
			t.Errorf("check %s duration = %dms, want >= 100", p.Name, p.DurationMs)
		}
	}
}

func TestReadyz_RequestCancelled(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "journal", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if p := readyzBody(t, rec).Checks[0]; p.Error != context.Canceled.Error() {
		t.Errorf("error = %q", p.Error)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "pipeline", Check: pass}).Register(mux)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/readyz", http.StatusOK},
		{"POST", "/readyz", http.StatusMethodNotAllowed},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}
