package sandbox_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"courier/internal/sandbox"
)

func newHTTPResource(t *testing.T, config map[string]interface{}) (*sandbox.API, sandbox.Resource) {
	t.Helper()

	spec := map[string]interface{}{"cls": "http"}
	for k, v := range config {
		spec[k] = v
	}
	resources, err := sandbox.NewResourceRegistry().Build(
		map[string]map[string]interface{}{"http": spec},
		sandbox.ResourceEnv{},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return sandbox.NewAPI(resources, "sb-1", nil), resources.Get("http")
}

func httpCall(t *testing.T, api *sandbox.API, res sandbox.Resource, verb string, fields map[string]interface{}) *sandbox.Command {
	t.Helper()

	reply, err := res.Dispatch(context.Background(), api, sandbox.NewCommand(verb, fields))
	if err != nil {
		t.Fatalf("%s: %v", verb, err)
	}
	if reply == nil {
		t.Fatalf("%s: no reply", verb)
	}
	return reply
}

func TestHTTPGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "pong")
	}))
	t.Cleanup(srv.Close)

	api, res := newHTTPResource(t, nil)
	reply := httpCall(t, api, res, "get", map[string]interface{}{"url": srv.URL})
	requireSuccess(t, reply)
	if code := reply.Extra["code"]; code != http.StatusOK {
		t.Fatalf("code = %v, want 200", code)
	}
	if body := reply.String("body"); body != "pong" {
		t.Fatalf("body = %q, want %q", body, "pong")
	}
}

func TestHTTPPostSendsDataAndHeaders(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	api, res := newHTTPResource(t, nil)
	reply := httpCall(t, api, res, "post", map[string]interface{}{
		"url":  srv.URL,
		"data": `{"n":1}`,
		"headers": map[string]interface{}{
			"Content-Type": "application/json",
		},
	})
	requireSuccess(t, reply)
	if code := reply.Extra["code"]; code != http.StatusCreated {
		t.Fatalf("code = %v, want 201", code)
	}
	if gotBody != `{"n":1}` {
		t.Fatalf("server saw body %q", gotBody)
	}
	if gotType != "application/json" {
		t.Fatalf("server saw content type %q", gotType)
	}
}

func TestHTTPMissingURLFailsLocally(t *testing.T) {
	t.Parallel()

	api, res := newHTTPResource(t, nil)
	reply := httpCall(t, api, res, "get", nil)
	if reply.Bool("success") {
		t.Fatal("request without URL succeeded")
	}
	if reason := reply.String("reason"); reason != "No URL given" {
		t.Fatalf("reason = %q, want %q", reason, "No URL given")
	}
}

func TestHTTPBodyLimitTruncates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 1000))
	}))
	t.Cleanup(srv.Close)

	api, res := newHTTPResource(t, map[string]interface{}{"data_limit": 16})
	reply := httpCall(t, api, res, "get", map[string]interface{}{"url": srv.URL})
	requireSuccess(t, reply)
	if body := reply.String("body"); body != strings.Repeat("x", 16) {
		t.Fatalf("body length = %d, want 16", len(body))
	}
}

func TestHTTPNonHTTPStatusStillSucceeds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	api, res := newHTTPResource(t, nil)
	reply := httpCall(t, api, res, "get", map[string]interface{}{"url": srv.URL})
	requireSuccess(t, reply)
	if code := reply.Extra["code"]; code != http.StatusNotFound {
		t.Fatalf("code = %v, want 404", code)
	}
}
