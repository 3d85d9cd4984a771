package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	cfgpkg "github.com/quillmq/quill/internal/config"
	"github.com/quillmq/quill/internal/runtime"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Storage = cfgpkg.StorageMemory
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	ts := httptest.NewServer(New(rt, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doReq(t *testing.T, method, url string, headers map[string]string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestQueueEndpoints(t *testing.T) {
	ts := newTestServer(t)
	hdr := map[string]string{"X-Project-ID": "acme"}

	resp, _ := doReq(t, http.MethodPut, ts.URL+"/v2/queues/jobs", hdr, map[string]interface{}{"flavor": "bulk"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	resp, _ = doReq(t, http.MethodPut, ts.URL+"/v2/queues/jobs", hdr, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("recreate: %d", resp.StatusCode)
	}
	// Invalid name.
	resp, _ = doReq(t, http.MethodPut, ts.URL+"/v2/queues/bad%20name", hdr, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad name: %d", resp.StatusCode)
	}

	resp, body := doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs", hdr, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get metadata: %d", resp.StatusCode)
	}
	var md map[string]interface{}
	if err := json.Unmarshal(body, &md); err != nil || md["flavor"] != "bulk" {
		t.Fatalf("metadata = %s (%v)", body, err)
	}

	// Another project sees its own namespace.
	resp, _ = doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs", map[string]string{"X-Project-ID": "other"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-project get: %d", resp.StatusCode)
	}

	resp, body = doReq(t, http.MethodGet, ts.URL+"/v2/queues", hdr, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	var listed struct {
		Queues []struct {
			Name string `json:"name"`
		} `json:"queues"`
	}
	if err := json.Unmarshal(body, &listed); err != nil || len(listed.Queues) != 1 || listed.Queues[0].Name != "jobs" {
		t.Fatalf("queue list = %s (%v)", body, err)
	}

	resp, _ = doReq(t, http.MethodDelete, ts.URL+"/v2/queues/jobs", hdr, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs/stats", hdr, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stats after delete: %d", resp.StatusCode)
	}
}

func TestMessageLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	cid := uuid.NewString()
	hdr := map[string]string{"X-Project-ID": "acme", "Client-ID": cid}

	doReq(t, http.MethodPut, ts.URL+"/v2/queues/jobs", hdr, nil)

	// Post to a missing queue is 404.
	resp, _ := doReq(t, http.MethodPost, ts.URL+"/v2/queues/ghost/messages", hdr,
		[]map[string]interface{}{{"ttl": 300, "body": map[string]string{"k": "v"}}})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("post to missing queue: %d", resp.StatusCode)
	}

	batch := []map[string]interface{}{
		{"ttl": 300, "body": map[string]interface{}{"n": 0}},
		{"ttl": 300, "body": map[string]interface{}{"n": 1}},
		{"ttl": 300, "body": map[string]interface{}{"n": 2}},
	}
	resp, body := doReq(t, http.MethodPost, ts.URL+"/v2/queues/jobs/messages", hdr, batch)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post: %d %s", resp.StatusCode, body)
	}
	var posted struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &posted); err != nil || len(posted.IDs) != 3 {
		t.Fatalf("post response = %s (%v)", body, err)
	}

	// TTL below the minimum is rejected.
	resp, _ = doReq(t, http.MethodPost, ts.URL+"/v2/queues/jobs/messages", hdr,
		[]map[string]interface{}{{"ttl": 5, "body": map[string]string{}}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short ttl: %d", resp.StatusCode)
	}

	// Same client sees nothing without echo, everything with it.
	resp, body = doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs/messages", hdr, nil)
	var page struct {
		Messages []struct {
			ID     string          `json:"id"`
			Marker uint64          `json:"marker"`
			Body   json.RawMessage `json:"body"`
		} `json:"messages"`
		Marker uint64 `json:"marker"`
	}
	if err := json.Unmarshal(body, &page); err != nil || len(page.Messages) != 0 {
		t.Fatalf("echo-suppressed list = %s (%v)", body, err)
	}
	resp, body = doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs/messages?echo=true", hdr, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &page); err != nil || len(page.Messages) != 3 {
		t.Fatalf("list = %s (%v)", body, err)
	}
	if page.Marker != page.Messages[2].Marker {
		t.Fatalf("next marker %d != last message marker %d", page.Marker, page.Messages[2].Marker)
	}

	// Get one, delete it, get again.
	mid := page.Messages[0].ID
	resp, _ = doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs/messages/"+mid, hdr, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get message: %d", resp.StatusCode)
	}
	resp, _ = doReq(t, http.MethodDelete, ts.URL+"/v2/queues/jobs/messages/"+mid, hdr, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete message: %d", resp.StatusCode)
	}
	resp, _ = doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs/messages/"+mid, hdr, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted message: %d", resp.StatusCode)
	}

	// Pop one of the remaining two.
	resp, body = doReq(t, http.MethodDelete, ts.URL+"/v2/queues/jobs/messages?pop=1", hdr, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pop: %d", resp.StatusCode)
	}
	var popped struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &popped); err != nil || len(popped.Messages) != 1 {
		t.Fatalf("pop response = %s (%v)", body, err)
	}

	// Bulk delete the rest.
	resp, _ = doReq(t, http.MethodDelete,
		fmt.Sprintf("%s/v2/queues/jobs/messages?ids=%s", ts.URL, strings.Join(posted.IDs, ",")), hdr, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("bulk delete: %d", resp.StatusCode)
	}
	resp, body = doReq(t, http.MethodGet, ts.URL+"/v2/queues/jobs/messages?echo=true", hdr, nil)
	if err := json.Unmarshal(body, &page); err != nil || len(page.Messages) != 0 {
		t.Fatalf("list after drain = %s (%v)", body, err)
	}

	// Neither ids nor pop is a 400.
	resp, _ = doReq(t, http.MethodDelete, ts.URL+"/v2/queues/jobs/messages", hdr, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bare bulk delete: %d", resp.StatusCode)
	}
}

func TestClaimEndpoints(t *testing.T) {
	ts := newTestServer(t)
	producer := map[string]string{"X-Project-ID": "acme", "Client-ID": uuid.NewString()}
	consumer := map[string]string{"X-Project-ID": "acme", "Client-ID": uuid.NewString()}

	doReq(t, http.MethodPut, ts.URL+"/v2/queues/work", producer, nil)
	batch := make([]map[string]interface{}, 4)
	for i := range batch {
		batch[i] = map[string]interface{}{"ttl": 300, "body": map[string]interface{}{"n": i}}
	}
	doReq(t, http.MethodPost, ts.URL+"/v2/queues/work/messages", producer, batch)

	resp, body := doReq(t, http.MethodPost, ts.URL+"/v2/queues/work/claims", consumer,
		map[string]interface{}{"ttl": 120, "grace": 60, "limit": 2})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("claim: %d %s", resp.StatusCode, body)
	}
	var claim struct {
		ClaimID  string `json:"claim_id"`
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &claim); err != nil || claim.ClaimID == "" || len(claim.Messages) != 2 {
		t.Fatalf("claim response = %s (%v)", body, err)
	}

	// Claimed messages are guarded against unclaimed deletion.
	mid := claim.Messages[0].ID
	resp, _ = doReq(t, http.MethodDelete, ts.URL+"/v2/queues/work/messages/"+mid+"?claim_id=wrong", consumer, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("delete with wrong claim: %d", resp.StatusCode)
	}
	resp, _ = doReq(t, http.MethodDelete, ts.URL+"/v2/queues/work/messages/"+mid+"?claim_id="+claim.ClaimID, consumer, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete with claim: %d", resp.StatusCode)
	}

	resp, body = doReq(t, http.MethodGet, ts.URL+"/v2/queues/work/claims/"+claim.ClaimID, consumer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get claim: %d", resp.StatusCode)
	}
	var got struct {
		ID       string `json:"id"`
		TTL      int64  `json:"ttl"`
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &got); err != nil || got.ID != claim.ClaimID || len(got.Messages) != 1 {
		t.Fatalf("claim get = %s (%v)", body, err)
	}

	resp, _ = doReq(t, http.MethodPatch, ts.URL+"/v2/queues/work/claims/"+claim.ClaimID, consumer,
		map[string]interface{}{"ttl": 300, "grace": 0})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update claim: %d", resp.StatusCode)
	}
	// Out-of-bounds TTL rejected before storage.
	resp, _ = doReq(t, http.MethodPatch, ts.URL+"/v2/queues/work/claims/"+claim.ClaimID, consumer,
		map[string]interface{}{"ttl": 999999})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized claim ttl: %d", resp.StatusCode)
	}

	resp, _ = doReq(t, http.MethodDelete, ts.URL+"/v2/queues/work/claims/"+claim.ClaimID, consumer, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("release claim: %d", resp.StatusCode)
	}
	resp, _ = doReq(t, http.MethodGet, ts.URL+"/v2/queues/work/claims/"+claim.ClaimID, consumer, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get released claim: %d", resp.StatusCode)
	}

	// Claim on an empty queue yields no content.
	doReq(t, http.MethodPut, ts.URL+"/v2/queues/empty", consumer, nil)
	resp, _ = doReq(t, http.MethodPost, ts.URL+"/v2/queues/empty/claims", consumer,
		map[string]interface{}{"ttl": 120, "grace": 0})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("claim on empty queue: %d", resp.StatusCode)
	}
}

func TestClientIDValidation(t *testing.T) {
	ts := newTestServer(t)
	hdr := map[string]string{"X-Project-ID": "acme", "Client-ID": "not-a-uuid"}
	doReq(t, http.MethodPut, ts.URL+"/v2/queues/jobs", hdr, nil)

	resp, _ := doReq(t, http.MethodPost, ts.URL+"/v2/queues/jobs/messages", hdr,
		[]map[string]interface{}{{"ttl": 300, "body": map[string]string{}}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed Client-ID: %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doReq(t, http.MethodGet, ts.URL+"/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("ok")) {
		t.Fatalf("healthz: %d %s", resp.StatusCode, body)
	}
}
