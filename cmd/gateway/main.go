// Package main runs a local reverse proxy that forwards every request through
// an on-demand Yandex Cloud API gateway fronting BASE_URL. The gateway is
// found or created on startup and deleted on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	ctrl "sigs.k8s.io/controller-runtime"

	gw "apigw-proxy/pkg/gateway"
	"apigw-proxy/pkg/transport"
)

const shutdownTimeout = 15 * time.Second

// settings holds the optional configuration read from the environment.
type settings struct {
	port             string
	serviceURL       string
	provisionTimeout time.Duration
	pollInterval     time.Duration
	methods          []string
	description      string
	labels           map[string]string
	controlPlaneRPS  float64
	retryTotal       int
}

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := zapr.NewLogger(zapLog)

	credential := mustEnv("YC_IAM_TOKEN")
	folderID := mustEnv("YC_FOLDER_ID")
	baseURL := mustEnv("BASE_URL")
	s, err := loadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()
	if err := run(ctx, log, credential, folderID, baseURL, s); err != nil {
		log.Error(err, "Gateway proxy failed")
		_ = zapLog.Sync()
		os.Exit(1)
	}
	_ = zapLog.Sync()
}

func run(ctx context.Context, log logr.Logger, credential, folderID, baseURL string, s settings) error {
	policy := transport.DefaultRetryPolicy()
	policy.Total = s.retryTotal
	httpClient, err := transport.NewClient(policy, transport.DefaultPoolConfig(), log.WithName("transport"))
	if err != nil {
		return fmt.Errorf("build http client: %w", err)
	}

	api := gw.NewClient(httpClient, gw.StaticToken(credential), folderID, log.WithName("control-plane"), gw.ClientOptions{
		ServiceURL: s.serviceURL,
		RateLimit:  rate.Limit(s.controlPlaneRPS),
		Burst:      1,
	})
	m, err := gw.NewLifecycleManager(api, log, baseURL, gw.LifecycleConfig{
		PollInterval:     s.pollInterval,
		ProvisionTimeout: s.provisionTimeout,
		Description:      s.description,
		Labels:           s.labels,
		Methods:          s.methods,
	})
	if err != nil {
		return err
	}

	log.Info("Opening API gateway", "target", m.BaseURL(), "name", m.Name(), "folder", folderID)
	guard, err := gw.Acquire(ctx, m)
	if err != nil {
		return fmt.Errorf("open api gateway: %w", err)
	}
	defer func() {
		if err := guard.Release(ctx); err != nil {
			log.Error(err, "Failed to delete API gateway", "name", m.Name())
			return
		}
		log.Info("API gateway deleted", "name", m.Name())
	}()

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           newMux(m, httpClient.Transport, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Gateway proxy listening", "addr", srv.Addr, "gateway", m.PublicURL())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Graceful shutdown failed")
	}
	return nil
}

// newMux serves health and metrics locally and proxies everything else
// through the gateway over next.
func newMux(m *gw.LifecycleManager, next http.RoundTripper, log logr.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth(m.IsActive))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", newProxyHandler(m.Transport(next), log))
	return mux
}

// handleHealth responds 200 while the gateway is active and 503 otherwise.
func handleHealth(active func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !active() {
			http.Error(w, "gateway not active", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// newProxyHandler returns a reverse proxy whose transport re-targets requests
// at the gateway's public URL.
func newProxyHandler(rt http.RoundTripper, log logr.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetXForwarded()
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			code := http.StatusBadGateway
			if errors.Is(err, gw.ErrNotActive) {
				code = http.StatusServiceUnavailable
			}
			log.Info("Proxy request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err.Error())
			http.Error(w, http.StatusText(code), code)
		},
	}
}

func loadSettings() (settings, error) {
	s := settings{
		port:        envOr("PORT", "8080"),
		serviceURL:  envOr("YC_APIGW_ENDPOINT", gw.DefaultServiceURL),
		description: envOr("GATEWAY_DESCRIPTION", "Managed by apigw-proxy"),
		methods:     splitList(envOr("PROXY_METHODS", "get")),
	}

	var err error
	if s.provisionTimeout, err = time.ParseDuration(envOr("PROVISION_TIMEOUT", gw.DefaultProvisionTimeout.String())); err != nil {
		return s, fmt.Errorf("PROVISION_TIMEOUT: %w", err)
	}
	if s.pollInterval, err = time.ParseDuration(envOr("POLL_INTERVAL", gw.DefaultPollInterval.String())); err != nil {
		return s, fmt.Errorf("POLL_INTERVAL: %w", err)
	}
	if s.controlPlaneRPS, err = strconv.ParseFloat(envOr("CONTROL_PLANE_RPS", "0"), 64); err != nil {
		return s, fmt.Errorf("CONTROL_PLANE_RPS: %w", err)
	}
	if s.retryTotal, err = strconv.Atoi(envOr("RETRY_TOTAL", strconv.Itoa(transport.DefaultTotalRetries))); err != nil {
		return s, fmt.Errorf("RETRY_TOTAL: %w", err)
	}
	if s.retryTotal < 0 {
		return s, fmt.Errorf("RETRY_TOTAL must not be negative, got %d", s.retryTotal)
	}
	if s.labels, err = parseLabels(os.Getenv("GATEWAY_LABELS")); err != nil {
		return s, fmt.Errorf("GATEWAY_LABELS: %w", err)
	}
	return s, nil
}

// parseLabels parses "k1=v1,k2=v2".
func parseLabels(raw string) (map[string]string, error) {
	items := splitList(raw)
	if len(items) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("label %q is not key=value", item)
		}
		labels[k] = strings.TrimSpace(v)
	}
	return labels, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "required env var %q is not set\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
