// Package mocks provides test doubles shared by the integration suite.
package mocks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// WearableProvider simulates the upstream vendor: an OAuth token endpoint
// with single-use refresh tokens, a revocation endpoint, and paginated
// resource collections under /v1/.
//
// Access tokens are issued as at-N and refresh tokens as rt-N. Presenting a
// stale refresh token yields invalid_grant, matching the vendor's rotation
// contract.
type WearableProvider struct {
	Server *httptest.Server

	// PageSize controls how many records each data page carries.
	PageSize int

	mu            sync.Mutex
	seq           int
	validAccess   map[string]bool
	activeRefresh string
	records       map[string][]json.RawMessage

	tokenCalls  int
	dataCalls   int
	revokeCalls int

	failStatus     int
	failRemaining  int
	rejectRefresh  bool
	omitNewRefresh bool
}

// NewWearableProvider starts the mock server. Callers must Close it.
func NewWearableProvider() *WearableProvider {
	p := &WearableProvider{
		PageSize:    25,
		validAccess: make(map[string]bool),
		records:     make(map[string][]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", p.handleToken)
	mux.HandleFunc("/oauth/revoke", p.handleRevoke)
	mux.HandleFunc("/v1/", p.handleData)
	p.Server = httptest.NewServer(mux)
	return p
}

// Close shuts the underlying server down.
func (p *WearableProvider) Close() {
	p.Server.Close()
}

// URL returns the mock's base URL.
func (p *WearableProvider) URL() string {
	return p.Server.URL
}

// SeedRecords populates a resource collection with n sequentially numbered
// records.
func (p *WearableProvider) SeedRecords(resource string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	recs := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, json.RawMessage(fmt.Sprintf(`{"id":"%s-%d","seq":%d}`, resource, i, i)))
	}
	p.records[resource] = recs
}

// FailDataRequests makes the next n data requests return the given status.
func (p *WearableProvider) FailDataRequests(status, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failStatus = status
	p.failRemaining = n
}

// ExpireAccessTokens invalidates every issued access token. Data requests
// return 401 until the caller refreshes.
func (p *WearableProvider) ExpireAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validAccess = make(map[string]bool)
}

// RejectRefresh makes refresh_token grants fail with invalid_grant
// regardless of the token presented.
func (p *WearableProvider) RejectRefresh(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectRefresh = reject
}

// OmitRefreshRotation makes token responses omit the refresh_token field,
// exercising the client's keep-old-token path.
func (p *WearableProvider) OmitRefreshRotation(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitNewRefresh = omit
}

// TokenCalls reports how many token-endpoint requests were served.
func (p *WearableProvider) TokenCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

// DataCalls reports how many data requests were served.
func (p *WearableProvider) DataCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataCalls
}

// RevokeCalls reports how many revocation requests were served.
func (p *WearableProvider) RevokeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revokeCalls
}

// ActiveRefreshToken returns the refresh token the provider currently
// honors.
func (p *WearableProvider) ActiveRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeRefresh
}

func (p *WearableProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenCalls++

	switch r.FormValue("grant_type") {
	case "authorization_code":
		if r.FormValue("code") == "" {
			writeOAuthError(w, "invalid_request")
			return
		}
	case "refresh_token":
		presented := r.FormValue("refresh_token")
		if p.rejectRefresh || presented == "" || presented != p.activeRefresh {
			writeOAuthError(w, "invalid_grant")
			return
		}
	default:
		writeOAuthError(w, "unsupported_grant_type")
		return
	}

	p.seq++
	access := fmt.Sprintf("at-%d", p.seq)
	p.validAccess[access] = true

	resp := map[string]interface{}{
		"access_token": access,
		"expires_in":   3600,
		"scope":        "read:sleep read:recovery read:workout read:cycle",
		"user_id":      "wearer-1",
	}
	if !p.omitNewRefresh {
		p.activeRefresh = fmt.Sprintf("rt-%d", p.seq)
		resp["refresh_token"] = p.activeRefresh
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (p *WearableProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeCalls++
	w.WriteHeader(http.StatusOK)
}

func (p *WearableProvider) handleData(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dataCalls++

	if p.failRemaining > 0 {
		p.failRemaining--
		if p.failStatus == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(p.failStatus)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || !p.validAccess[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	resource := strings.TrimPrefix(r.URL.Path, "/v1/")
	recs := p.records[resource]

	offset := 0
	if tok := r.URL.Query().Get("nextToken"); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		offset = n
	}

	end := offset + p.PageSize
	if end > len(recs) {
		end = len(recs)
	}
	page := recs[offset:end]
	if page == nil {
		page = []json.RawMessage{}
	}

	envelope := map[string]interface{}{"data": page}
	if end < len(recs) {
		envelope["nextToken"] = strconv.Itoa(end)
	}

	w.Header().Set("X-RateLimit-Limit", "100")
	w.Header().Set("X-RateLimit-Remaining", "99")
	w.Header().Set("X-RateLimit-Daily-Limit", "10000")
	w.Header().Set("X-RateLimit-Daily-Remaining", "9000")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope)
}

func writeOAuthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
