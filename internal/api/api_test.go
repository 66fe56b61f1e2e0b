package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestClientDecodesResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("POST without JSON content type")
		}
		w.Write([]byte(`{"name":"draft.md"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	var out struct {
		Name string `json:"name"`
	}
	if err := c.Post(context.Background(), "/documents", map[string]string{"path": "draft.md"}, &out); err != nil {
		t.Fatalf("post: %v", err)
	}
	if out.Name != "draft.md" {
		t.Fatalf("decoded %+v", out)
	}
	if err := c.Get(context.Background(), "/documents", nil); err != nil {
		t.Fatalf("get with nil result: %v", err)
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"extraction stage failed"}`))
	}))
	defer ts.Close()

	err := NewClient(ts.URL).Get(context.Background(), "/run", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "422") || !strings.Contains(err.Error(), "extraction stage failed") {
		t.Fatalf("error = %v", err)
	}
}

type stubEndpoint struct {
	method, path string
	needsInit    bool
}

func (e stubEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (e stubEndpoint) RequiresInit() bool { return e.needsInit }

func (e stubEndpoint) Command(func() string) *cobra.Command {
	return &cobra.Command{Use: "stub"}
}

func TestRegistryGatesInitRoutes(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubEndpoint{method: http.MethodGet, path: "/open"})
	reg.Register(stubEndpoint{method: http.MethodGet, path: "/gated", needsInit: true})

	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/open")
	if err != nil {
		t.Fatalf("open route: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("open route = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/gated")
	if err != nil {
		t.Fatalf("gated route: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("gated route = %d", resp.StatusCode)
	}
}

func TestOutputTo(t *testing.T) {
	data := map[string]string{"status": "ok"}

	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(buf.String(), `"status": "ok"`) {
		t.Fatalf("json output = %q", buf.String())
	}

	buf.Reset()
	if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(buf.String(), "status: ok") {
		t.Fatalf("yaml output = %q", buf.String())
	}

	if err := OutputTo(&buf, OutputFormat("toml"), data); err == nil {
		t.Fatal("unknown format must error")
	}
}
