package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	apigwv1 "apigw-proxy/api/v1"
)

const (
	// DefaultPollInterval is the delay between status checks while waiting
	// for a gateway to become active.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultProvisionTimeout bounds waiting for a gateway to become active.
	DefaultProvisionTimeout = 5 * time.Minute
)

// State is the lifecycle state of a LifecycleManager.
type State string

const (
	StateUninitialized State = "Uninitialized"
	StateLookingUp     State = "LookingUp"
	StateCreating      State = "Creating"
	StatePolling       State = "Polling"
	StateActive        State = "Active"
	StateDeleting      State = "Deleting"
	StateTerminated    State = "Terminated"
)

// LifecycleConfig holds settings used when creating and waiting for gateways.
type LifecycleConfig struct {
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// ProvisionTimeout defaults to DefaultProvisionTimeout.
	ProvisionTimeout time.Duration
	// Description and Labels are set on gateways created by the manager.
	Description string
	Labels      map[string]string
	// Methods are the operations exposed on the catch-all path
	// (default DefaultProxyMethods).
	Methods []string
}

// LifecycleManager owns one API gateway that proxies to a base URL: it finds
// or creates the gateway, waits for it to become active, rewrites requests to
// its public URL and deletes it on Close.
//
// A manager is owned by a single caller. Two managers opening the same base
// URL in the same folder race on find-or-create.
type LifecycleManager struct {
	client *Client
	log    logr.Logger
	cfg    LifecycleConfig

	baseURL string
	host    string
	name    string

	mu        sync.RWMutex
	state     State
	id        string
	publicURL string
	active    bool
}

// NewLifecycleManager returns a manager for the gateway fronting baseURL.
// baseURL is normalized (https:// added when no scheme, trailing slash
// removed) and the gateway name is derived from its host.
func NewLifecycleManager(c *Client, log logr.Logger, baseURL string, cfg LifecycleConfig) (*LifecycleManager, error) {
	normalized, host, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = DefaultProvisionTimeout
	}
	name := GatewayName(host)
	return &LifecycleManager{
		client:  c,
		log:     log.WithValues("gateway", name),
		cfg:     cfg,
		baseURL: normalized,
		host:    host,
		name:    name,
		state:   StateUninitialized,
	}, nil
}

// BaseURL returns the normalized target base URL.
func (m *LifecycleManager) BaseURL() string { return m.baseURL }

// Host returns the target host.
func (m *LifecycleManager) Host() string { return m.host }

// Name returns the derived gateway name.
func (m *LifecycleManager) Name() string { return m.name }

// ID returns the gateway id, or "" if none was found or created.
func (m *LifecycleManager) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// PublicURL returns the gateway's public URL once known.
func (m *LifecycleManager) PublicURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publicURL
}

// IsActive reports whether the gateway is active and proxying.
func (m *LifecycleManager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// State returns the current lifecycle state.
func (m *LifecycleManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Open finds the gateway named after the base URL host in the folder or
// creates it, then waits until the control plane reports it ACTIVE.
//
// Waiting is bounded by LifecycleConfig.ProvisionTimeout (ErrProvisioningTimeout)
// and stops early on an ERROR status (ErrGatewayFailed). When Open fails after
// the gateway id is known, Close still deletes it.
func (m *LifecycleManager) Open(ctx context.Context) (*apigwv1.ApiGateway, error) {
	start := time.Now()
	gw, outcome, err := m.open(ctx)
	if err != nil {
		gatewayOperationsTotal.WithLabelValues("open", "error").Inc()
		m.mu.Lock()
		if m.id == "" {
			m.state = StateUninitialized
		}
		m.mu.Unlock()
		return nil, err
	}
	gatewayOperationsTotal.WithLabelValues("open", outcome).Inc()
	provisionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return gw, nil
}

func (m *LifecycleManager) open(ctx context.Context) (*apigwv1.ApiGateway, string, error) {
	m.setState(StateLookingUp)
	gateways, err := m.client.ListAPIGateways(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("list api gateways in folder %q: %w", m.client.FolderID(), err)
	}

	outcome := "existing"
	var id string
	for i := range gateways {
		if gateways[i].Name != m.name {
			continue
		}
		gw := &gateways[i]
		id = gw.ID
		m.log.Info("Found existing API gateway", "id", id, "status", gw.Status)
		m.setID(id)
		if isReady(gw) {
			m.activate(gw)
			return gw, outcome, nil
		}
		break
	}

	if id == "" {
		outcome = "created"
		id, err = m.create(ctx)
		if err != nil {
			return nil, "", err
		}
	}

	m.setState(StatePolling)
	gw, err := m.waitForActive(ctx, id)
	if err != nil {
		return nil, "", err
	}
	m.activate(gw)
	return gw, outcome, nil
}

func (m *LifecycleManager) create(ctx context.Context) (string, error) {
	m.setState(StateCreating)
	spec, err := RenderOpenAPISpec(m.baseURL, m.host, m.cfg.Methods)
	if err != nil {
		return "", err
	}
	m.log.Info("Creating API gateway", "folder", m.client.FolderID(), "target", m.baseURL)
	op, err := m.client.CreateAPIGateway(ctx, apigwv1.CreateApiGatewayRequest{
		FolderID:    m.client.FolderID(),
		Name:        m.name,
		Description: m.cfg.Description,
		Labels:      m.cfg.Labels,
		OpenapiSpec: spec,
	})
	if err != nil {
		return "", fmt.Errorf("create api gateway %q: %w", m.name, err)
	}
	if op.Error != nil {
		return "", fmt.Errorf("%w: create %q: %s", ErrGatewayFailed, m.name, op.Error.Message)
	}
	id := op.GatewayID()
	if id == "" {
		return "", fmt.Errorf("create api gateway %q: operation %q carries no gateway id", m.name, op.ID)
	}
	m.setID(id)
	return id, nil
}

// waitForActive polls until the gateway reports ACTIVE, the provisioning
// timeout passes or the gateway reports ERROR. Not-found and 5xx responses
// are treated as transient since a freshly created gateway may not be
// readable yet.
func (m *LifecycleManager) waitForActive(ctx context.Context, id string) (*apigwv1.ApiGateway, error) {
	var ready *apigwv1.ApiGateway
	err := wait.PollUntilContextTimeout(ctx, m.cfg.PollInterval, m.cfg.ProvisionTimeout, false,
		func(ctx context.Context) (bool, error) {
			gw, err := m.client.GetAPIGateway(ctx, id)
			if err != nil {
				if IsNotFound(err) || IsServerError(err) {
					m.log.Info("Transient error while waiting for API gateway", "id", id, "error", err.Error())
					return false, nil
				}
				return false, err
			}
			if gw.Status == apigwv1.StatusError {
				return false, fmt.Errorf("%w: %q (%s) reported status %s", ErrGatewayFailed, m.name, id, gw.Status)
			}
			if isReady(gw) {
				ready = gw
				return true, nil
			}
			m.log.Info("Waiting for API gateway", "id", id, "status", gw.Status)
			return false, nil
		})
	if err == nil {
		return ready, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if wait.Interrupted(err) {
		return nil, fmt.Errorf("%w: %q (%s) not active after %s", ErrProvisioningTimeout, m.name, id, m.cfg.ProvisionTimeout)
	}
	return nil, fmt.Errorf("wait for api gateway %q (%s): %w", m.name, id, err)
}

// Close deletes the gateway. It is a no-op returning (nil, nil) when no
// gateway id was ever assigned. The manager ends in StateTerminated whether
// or not the delete succeeds; the delete is not retried.
func (m *LifecycleManager) Close(ctx context.Context) (*apigwv1.Operation, error) {
	m.mu.Lock()
	id := m.id
	if id == "" {
		m.mu.Unlock()
		return nil, nil
	}
	m.state = StateDeleting
	m.active = false
	m.mu.Unlock()

	m.log.Info("Deleting API gateway", "id", id)
	op, err := m.client.DeleteAPIGateway(ctx, id)

	m.mu.Lock()
	m.state = StateTerminated
	m.id = ""
	m.publicURL = ""
	m.mu.Unlock()

	if err != nil {
		gatewayOperationsTotal.WithLabelValues("close", "error").Inc()
		return nil, fmt.Errorf("delete api gateway %q (%s): %w", m.name, id, err)
	}
	gatewayOperationsTotal.WithLabelValues("close", "deleted").Inc()
	return op, nil
}

// Transport returns a round tripper that sends requests through the gateway
// over next.
func (m *LifecycleManager) Transport(next http.RoundTripper) *Rewriter {
	return NewRewriter(m, next)
}

// activeURL returns the public URL while the gateway is active.
func (m *LifecycleManager) activeURL() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publicURL, m.active
}

func (m *LifecycleManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *LifecycleManager) setID(id string) {
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
}

func (m *LifecycleManager) activate(gw *apigwv1.ApiGateway) {
	m.mu.Lock()
	m.publicURL = "https://" + gw.Domain
	m.active = true
	m.state = StateActive
	m.mu.Unlock()
	m.log.Info("API gateway active", "id", gw.ID, "url", "https://"+gw.Domain)
}

func isReady(gw *apigwv1.ApiGateway) bool {
	return gw.Status == apigwv1.StatusActive && gw.Domain != ""
}
