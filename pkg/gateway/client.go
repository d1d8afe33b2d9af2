package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	apigwv1 "apigw-proxy/api/v1"
)

const (
	// DefaultServiceURL is the Serverless API Gateway control-plane endpoint.
	DefaultServiceURL = "https://serverless-apigateway.api.cloud.yandex.net/apigateways/v1/apigateways"

	requestIDHeader = "X-Request-Id"
	defaultPageSize = 100
)

// ClientOptions tunes a Client. Zero values select defaults.
type ClientOptions struct {
	// ServiceURL overrides DefaultServiceURL.
	ServiceURL string
	// RateLimit caps control-plane calls per second; zero disables limiting.
	RateLimit rate.Limit
	// Burst is the limiter burst size (default 1).
	Burst int
	// PageSize is the list page size (default 100).
	PageSize int
}

// Client issues control-plane calls for gateways in one folder.
type Client struct {
	httpClient *http.Client
	tokens     oauth2.TokenSource
	serviceURL string
	folderID   string
	pageSize   int
	limiter    *rate.Limiter
	log        logr.Logger
}

// StaticToken returns a token source for an opaque IAM token.
func StaticToken(credential string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"})
}

// NewClient returns a Client for folderID. A nil httpClient uses
// http.DefaultClient; tokens is wrapped in an oauth2.ReuseTokenSource.
func NewClient(httpClient *http.Client, tokens oauth2.TokenSource, folderID string, log logr.Logger, opts ClientOptions) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient: httpClient,
		tokens:     oauth2.ReuseTokenSource(nil, tokens),
		serviceURL: DefaultServiceURL,
		folderID:   folderID,
		pageSize:   defaultPageSize,
		log:        log,
	}
	if opts.ServiceURL != "" {
		c.serviceURL = opts.ServiceURL
	}
	if opts.PageSize > 0 {
		c.pageSize = opts.PageSize
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(opts.RateLimit, max(opts.Burst, 1))
	}
	return c
}

// FolderID returns the folder the client is scoped to.
func (c *Client) FolderID() string {
	return c.folderID
}

// GetAPIGateway fetches a single gateway by id.
func (c *Client) GetAPIGateway(ctx context.Context, id string) (*apigwv1.ApiGateway, error) {
	var gw apigwv1.ApiGateway
	if err := c.Do(ctx, http.MethodGet, c.gatewayURL(id), nil, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

// ListAPIGateways returns every gateway in the folder, following page tokens.
func (c *Client) ListAPIGateways(ctx context.Context) ([]apigwv1.ApiGateway, error) {
	gateways := []apigwv1.ApiGateway{}
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("folderId", c.folderID)
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page apigwv1.ListApiGatewaysResponse
		if err := c.Do(ctx, http.MethodGet, c.serviceURL+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		gateways = append(gateways, page.ApiGateways...)
		if page.NextPageToken == "" || page.NextPageToken == pageToken {
			return gateways, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateAPIGateway submits a creation request. An empty FolderID defaults to
// the client's folder.
func (c *Client) CreateAPIGateway(ctx context.Context, req apigwv1.CreateApiGatewayRequest) (*apigwv1.Operation, error) {
	if req.FolderID == "" {
		req.FolderID = c.folderID
	}
	var op apigwv1.Operation
	if err := c.Do(ctx, http.MethodPost, c.serviceURL, req, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// DeleteAPIGateway submits a deletion request for id.
func (c *Client) DeleteAPIGateway(ctx context.Context, id string) (*apigwv1.Operation, error) {
	var op apigwv1.Operation
	if err := c.Do(ctx, http.MethodDelete, c.gatewayURL(id), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Do sends a JSON control-plane request. in, when non-nil, is encoded as the
// request body; out, when non-nil, receives the decoded response.
func (c *Client) Do(ctx context.Context, method, rawURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, rawURL, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, rawURL, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.DoRequest(req, out)
}

// DoRequest sends req with the credential injected. Any Authorization header
// set by the caller is replaced. Status >= 400 yields an *APIError; a 2xx
// body that is not valid JSON is an error when out is non-nil.
func (c *Client) DoRequest(req *http.Request, out any) error {
	ctx := req.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for control plane rate limit: %w", err)
		}
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)

	target := req.URL.Redacted()
	c.log.V(1).Info("Control plane request", "method", req.Method, "url", target, "requestId", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		controlPlaneRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return fmt.Errorf("%s %s: %w", req.Method, target, err)
	}
	defer resp.Body.Close()
	controlPlaneRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: req.Method, URL: target, StatusCode: resp.StatusCode, Body: b}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response (http %d): %w", req.Method, target, resp.StatusCode, err)
	}
	return nil
}

func (c *Client) gatewayURL(id string) string {
	return c.serviceURL + "/" + url.PathEscape(id)
}
