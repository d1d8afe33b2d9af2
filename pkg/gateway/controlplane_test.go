package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	apigwv1 "apigw-proxy/api/v1"
)

const (
	testFolder     = "b1gfolder"
	testCredential = "t1.iam-token"
	servicePath    = "/apigateways/v1/apigateways"
)

type recordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
}

// fakeControlPlane is an in-memory stand-in for the API Gateway control plane.
type fakeControlPlane struct {
	mu sync.Mutex

	gateways map[string]*apigwv1.ApiGateway
	order    []string
	nextID   int

	// pollsUntilActive is how many GETs a CREATING gateway needs before it
	// turns ACTIVE; a negative value keeps it CREATING forever.
	pollsUntilActive int
	// failAfterPolls turns a gateway into ERROR instead of ACTIVE.
	failAfterPolls bool
	// transientGets answers that many GET-by-id calls with 503 first.
	transientGets int
	polls         map[string]int
	// fail maps an operation ("list", "get", "create", "delete") to a status.
	fail     map[string]int
	pageSize int

	requests   []recordedRequest
	lastCreate apigwv1.CreateApiGatewayRequest
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		gateways: map[string]*apigwv1.ApiGateway{},
		polls:    map[string]int{},
		fail:     map[string]int{},
	}
}

func (f *fakeControlPlane) addGateway(gw apigwv1.ApiGateway) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gw.FolderID == "" {
		gw.FolderID = testFolder
	}
	f.gateways[gw.ID] = &gw
	f.order = append(f.order, gw.ID)
}

func (f *fakeControlPlane) count(method, kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method != method {
			continue
		}
		isCollection := r.Path == servicePath
		if (kind == "collection") == isCollection {
			n++
		}
	}
	return n
}

func (f *fakeControlPlane) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeControlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get("X-Request-Id"),
	})

	switch {
	case r.URL.Path == servicePath && r.Method == http.MethodGet:
		f.list(w, r)
	case r.URL.Path == servicePath && r.Method == http.MethodPost:
		f.create(w, r)
	case strings.HasPrefix(r.URL.Path, servicePath+"/") && r.Method == http.MethodGet:
		f.get(w, strings.TrimPrefix(r.URL.Path, servicePath+"/"))
	case strings.HasPrefix(r.URL.Path, servicePath+"/") && r.Method == http.MethodDelete:
		f.delete(w, strings.TrimPrefix(r.URL.Path, servicePath+"/"))
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported")
	}
}

func (f *fakeControlPlane) failed(w http.ResponseWriter, op string) bool {
	code, ok := f.fail[op]
	if !ok {
		return false
	}
	writeError(w, code, fmt.Sprintf("%s failed", op))
	return true
}

func (f *fakeControlPlane) list(w http.ResponseWriter, r *http.Request) {
	if f.failed(w, "list") {
		return
	}
	folder := r.URL.Query().Get("folderId")
	var all []apigwv1.ApiGateway
	for _, id := range f.order {
		if gw, ok := f.gateways[id]; ok && gw.FolderID == folder {
			all = append(all, *gw)
		}
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	resp := apigwv1.ListApiGatewaysResponse{}
	end := len(all)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
		resp.NextPageToken = strconv.Itoa(end)
	}
	if start < len(all) {
		resp.ApiGateways = all[start:end]
	}
	writeJSON(w, resp)
}

func (f *fakeControlPlane) create(w http.ResponseWriter, r *http.Request) {
	if f.failed(w, "create") {
		return
	}
	var req apigwv1.CreateApiGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.lastCreate = req
	f.nextID++
	id := fmt.Sprintf("d5d%04d", f.nextID)
	gw := &apigwv1.ApiGateway{
		ID:       id,
		FolderID: req.FolderID,
		Name:     req.Name,
		Status:   apigwv1.StatusCreating,
		Domain:   id + ".apigw.yandexcloud.net",
	}
	f.gateways[id] = gw
	f.order = append(f.order, id)
	writeJSON(w, apigwv1.Operation{
		ID:       "op-" + id,
		Metadata: &apigwv1.OperationMetadata{ApiGatewayID: id},
	})
}

func (f *fakeControlPlane) get(w http.ResponseWriter, id string) {
	if f.failed(w, "get") {
		return
	}
	if f.transientGets > 0 {
		f.transientGets--
		writeError(w, http.StatusServiceUnavailable, "try again")
		return
	}
	gw, ok := f.gateways[id]
	if !ok {
		writeError(w, http.StatusNotFound, "api gateway "+id+" not found")
		return
	}
	if gw.Status == apigwv1.StatusCreating && f.pollsUntilActive >= 0 {
		f.polls[id]++
		if f.polls[id] >= f.pollsUntilActive {
			if f.failAfterPolls {
				gw.Status = apigwv1.StatusError
			} else {
				gw.Status = apigwv1.StatusActive
			}
		}
	}
	writeJSON(w, gw)
}

func (f *fakeControlPlane) delete(w http.ResponseWriter, id string) {
	if f.failed(w, "delete") {
		return
	}
	if _, ok := f.gateways[id]; !ok {
		writeError(w, http.StatusNotFound, "api gateway "+id+" not found")
		return
	}
	delete(f.gateways, id)
	writeJSON(w, apigwv1.Operation{
		ID:       "op-delete-" + id,
		Metadata: &apigwv1.OperationMetadata{ApiGatewayID: id},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": msg})
}

func testLog() logr.Logger { return zap.New(zap.UseDevMode(true)) }

// newTestClient starts fake behind an httptest server and returns a Client for it.
func newTestClient(t *testing.T, fake *fakeControlPlane) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), StaticToken(testCredential), testFolder, testLog(),
		ClientOptions{ServiceURL: srv.URL + servicePath})
}

func newTestManager(t *testing.T, fake *fakeControlPlane, baseURL string) *LifecycleManager {
	t.Helper()
	m, err := NewLifecycleManager(newTestClient(t, fake), testLog(), baseURL, LifecycleConfig{
		PollInterval:     5 * time.Millisecond,
		ProvisionTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewLifecycleManager: %v", err)
	}
	return m
}
