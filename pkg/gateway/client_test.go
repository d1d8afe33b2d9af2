package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	apigwv1 "apigw-proxy/api/v1"
)

func TestDoRequest_ReplacesAuthorization(t *testing.T) {
	fake := newFakeControlPlane()
	c := newTestClient(t, fake)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.serviceURL+"?folderId="+testFolder, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer caller-supplied")
	var out apigwv1.ListApiGatewaysResponse
	if err := c.DoRequest(req, &out); err != nil {
		t.Fatalf("DoRequest: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(fake.requests))
	}
	got := fake.requests[0]
	if got.Authorization != "Bearer "+testCredential {
		t.Errorf("Authorization = %q, want the client credential", got.Authorization)
	}
	if got.RequestID == "" {
		t.Error("X-Request-Id not set")
	}
}

func TestDo_RequestIDsAreUnique(t *testing.T) {
	fake := newFakeControlPlane()
	c := newTestClient(t, fake)
	for i := 0; i < 3; i++ {
		if _, err := c.ListAPIGateways(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[string]bool{}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, r := range fake.requests {
		if seen[r.RequestID] {
			t.Errorf("request id %q reused", r.RequestID)
		}
		seen[r.RequestID] = true
	}
}

func TestGetAPIGateway_Errors(t *testing.T) {
	fake := newFakeControlPlane()
	c := newTestClient(t, fake)

	_, err := c.GetAPIGateway(context.Background(), "missing")
	if !IsNotFound(err) || IsServerError(err) {
		t.Errorf("missing gateway error = %v, want 404", err)
	}
	if !strings.Contains(err.Error(), "api gateway missing not found") {
		t.Errorf("error does not include body: %v", err)
	}

	fake.mu.Lock()
	fake.fail["get"] = 500
	fake.mu.Unlock()
	_, err = c.GetAPIGateway(context.Background(), "any")
	if !IsServerError(err) || IsNotFound(err) {
		t.Errorf("server error = %v, want 500", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Method != http.MethodGet {
		t.Errorf("error = %#v, want *APIError for GET", err)
	}
}

func TestGetAPIGateway_EscapesID(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		writeJSON(w, apigwv1.ApiGateway{ID: "x"})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), StaticToken(testCredential), testFolder, testLog(), ClientOptions{ServiceURL: srv.URL + servicePath})
	if _, err := c.GetAPIGateway(context.Background(), "a/b"); err != nil {
		t.Fatal(err)
	}
	if path != servicePath+"/a%2Fb" {
		t.Errorf("path = %q", path)
	}
}

func TestDo_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), StaticToken(testCredential), testFolder, testLog(), ClientOptions{ServiceURL: srv.URL})
	_, err := c.GetAPIGateway(context.Background(), "x")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if StatusCodeOf(err) != 0 {
		t.Errorf("decode failure reported as APIError: %v", err)
	}
}

func TestListAPIGateways(t *testing.T) {
	t.Run("empty folder", func(t *testing.T) {
		fake := newFakeControlPlane()
		c := newTestClient(t, fake)
		got, err := c.ListAPIGateways(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("got %v, want empty non-nil slice", got)
		}
		fake.mu.Lock()
		q := fake.requests[0].Query
		fake.mu.Unlock()
		if !strings.Contains(q, "folderId="+testFolder) {
			t.Errorf("query %q lacks folderId", q)
		}
	})

	t.Run("pages", func(t *testing.T) {
		fake := newFakeControlPlane()
		fake.pageSize = 2
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			fake.addGateway(apigwv1.ApiGateway{ID: id, Name: id + "-proxy"})
		}
		fake.addGateway(apigwv1.ApiGateway{ID: "foreign", Name: "foreign-proxy", FolderID: "other"})

		c := newTestClient(t, fake)
		got, err := c.ListAPIGateways(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 5 {
			t.Fatalf("got %d gateways, want 5", len(got))
		}
		if got[4].ID != "e" {
			t.Errorf("last gateway = %q, want e", got[4].ID)
		}
		if n := fake.count("GET", "collection"); n != 3 {
			t.Errorf("list calls = %d, want 3", n)
		}
	})
}

func TestCreateAPIGateway_DefaultsFolder(t *testing.T) {
	fake := newFakeControlPlane()
	c := newTestClient(t, fake)
	op, err := c.CreateAPIGateway(context.Background(), apigwv1.CreateApiGatewayRequest{Name: "x-proxy", OpenapiSpec: "openapi: 3.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	if op.GatewayID() == "" {
		t.Error("operation carries no gateway id")
	}
	if fake.lastCreate.FolderID != testFolder {
		t.Errorf("folderId = %q, want %q", fake.lastCreate.FolderID, testFolder)
	}
}

func TestDo_RateLimitCancelled(t *testing.T) {
	fake := newFakeControlPlane()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	c := NewClient(srv.Client(), StaticToken(testCredential), testFolder, testLog(), ClientOptions{
		ServiceURL: srv.URL + servicePath,
		RateLimit:  rate.Every(1 << 40),
		Burst:      1,
	})

	if _, err := c.ListAPIGateways(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ListAPIGateways(ctx); err == nil {
		t.Fatal("expected rate limiter error")
	}
	if fake.requestCount() != 1 {
		t.Errorf("requests = %d, want 1", fake.requestCount())
	}
}
