package verifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return New(srv.URL, "test-key", time.Minute, logger)
}

func TestAnalyzeDecodesDefectList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verifications" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		body, _ := io.ReadAll(r.Body)
		var req analyzeRequest
		if err := sonic.Unmarshal(body, &req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if len(req.BeforeImages) != 2 || len(req.AfterImages) != 2 {
			t.Errorf("unexpected batch: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"fixed":true,"confidence":0.9},{"fixed":false,"confidence":0.4}]}`))
	})

	resp, err := c.Analyze(context.Background(), []string{"b1", "b2"}, []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(resp.Defects) != 2 {
		t.Fatalf("expected 2 defects, got %d", len(resp.Defects))
	}
	if !resp.Defects[0].Fixed || resp.Defects[1].Fixed {
		t.Fatalf("unexpected defects: %+v", resp.Defects)
	}
}

func TestAnalyzeDecodesSingleObjectResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"fixed":true,"confidence":0.77}}`))
	})

	resp, err := c.Analyze(context.Background(), []string{"b1"}, []string{"a1"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(resp.Defects) != 1 || resp.Defects[0].Confidence != 0.77 {
		t.Fatalf("expected normalized single defect, got %+v", resp.Defects)
	}
}

func TestAnalyzeNoDefects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"noDefects":true}`))
	})
	resp, err := c.Analyze(context.Background(), []string{"b1"}, []string{"a1"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !resp.NoDefects || len(resp.Defects) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAnalyzeServerErrorSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})
	_, err := c.Analyze(context.Background(), []string{"b1"}, []string{"a1"})
	if err == nil {
		t.Fatal("expected an error on 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected status and body snippet in error, got %v", err)
	}
}

func TestAnalyzeContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The server only observes the client disconnect (and cancels
		// r.Context()) once the request body has been consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Analyze(ctx, []string{"b1"}, []string{"a1"}); err == nil {
		t.Fatal("expected an error when the context deadline passes")
	}
}
