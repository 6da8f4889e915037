package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoginSendsPasswordBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathLogin {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %q", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("login should not carry a bearer token, got %q", auth)
		}

		var body loginBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if body.Type != "m.login.password" || body.Identifier.Type != "m.id.user" {
			t.Errorf("unexpected login types: %+v", body)
		}
		if body.Identifier.User != "bot" || body.Password != "hunter2" {
			t.Errorf("unexpected credentials: %+v", body)
		}
		if body.InitialDeviceDisplayName != "roomsync" {
			t.Errorf("device name = %q", body.InitialDeviceDisplayName)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"@bot:example.org","access_token":"tok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	resp, err := client.Login(context.Background(), LoginRequest{
		User:       "@bot:example.org",
		Password:   "hunter2",
		DeviceName: "roomsync",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(resp.Body), "tok") {
		t.Errorf("unexpected response: %d %s", resp.StatusCode, resp.Body)
	}
}

func TestLoginFailureReturnsMatrixError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"Invalid password"}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, time.Second).Login(context.Background(), LoginRequest{User: "bot", Password: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected the 403 response alongside the error, got %+v", resp)
	}

	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("expected *MatrixError, got %T", err)
	}
	if matrixErr.Code != ErrCodeForbidden || matrixErr.StatusCode != 403 || matrixErr.Message != "Invalid password" {
		t.Errorf("unexpected error: %+v", matrixErr)
	}
	if !IsMatrixError(err, ErrCodeForbidden) {
		t.Error("IsMatrixError should match M_FORBIDDEN")
	}
}

func TestSyncQueryParameters(t *testing.T) {
	var queries []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathSync {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		queries = append(queries, r.URL.Query())
		_, _ = w.Write([]byte(`{"next_batch":"s1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	client.SetAccessToken("tok")
	ctx := context.Background()

	if _, err := client.Sync(ctx, SyncParams{Timeout: 30 * time.Second}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Sync(ctx, SyncParams{Since: "s1", Timeout: 1500 * time.Millisecond, FullState: true}); err != nil {
		t.Fatal(err)
	}

	first, second := queries[0], queries[1]
	if _, ok := first["since"]; ok {
		t.Error("first sync must omit since")
	}
	if first.Get("timeout") != "30000" || first.Get("full_state") != "false" {
		t.Errorf("first query = %v", first)
	}
	if second.Get("since") != "s1" || second.Get("timeout") != "1500" || second.Get("full_state") != "true" {
		t.Errorf("second query = %v", second)
	}
}

func TestJoinRoomEscapesAndResolves(t *testing.T) {
	const room = "#lobby:example.org"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), pathJoin))
		if err != nil || got != room {
			t.Errorf("unexpected join target %q (%v)", r.URL.EscapedPath(), err)
		}
		if r.URL.Query().Get("server_name") != "example.org" {
			t.Errorf("server_name = %q", r.URL.Query().Get("server_name"))
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("content-type = %q", ct)
		}
		_, _ = w.Write([]byte(`{"room_id":"!joined:example.org"}`))
	}))
	defer server.Close()

	roomID, err := NewClient(server.URL, time.Second).JoinRoom(context.Background(), room)
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if roomID != "!joined:example.org" {
		t.Errorf("room id = %q", roomID)
	}
}

func TestSendMessageUsesTxnIDAndRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	var txnIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		parts := strings.Split(r.URL.Path, "/")
		txnIDs = append(txnIDs, parts[len(parts)-1])

		body, _ := io.ReadAll(r.Body)
		var content MessageContent
		if err := json.Unmarshal(body, &content); err != nil || content.Body != "hi" || content.MsgType != MsgText {
			t.Errorf("unexpected content %s", body)
		}

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"errcode":"M_LIMIT_EXCEEDED","error":"slow down","retry_after_ms":10}`))
			return
		}
		_, _ = w.Write([]byte(`{"event_id":"$e1"}`))
	}))
	defer server.Close()

	gate := NewGate(0, 1)
	client := NewClient(server.URL, time.Second, WithGate(gate))
	eventID, err := client.SendMessage(context.Background(), "!r:example.org", "abc.1", MessageContent{Body: "hi"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if eventID != "$e1" {
		t.Errorf("event id = %q", eventID)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if len(txnIDs) != 2 || txnIDs[0] != "abc.1" || txnIDs[1] != "abc.1" {
		t.Errorf("retry must reuse the transaction id, got %v", txnIDs)
	}
}

func TestSendMessageValidation(t *testing.T) {
	client := NewClient("http://unused.invalid", time.Second)
	if _, err := client.SendMessage(context.Background(), "", "t", MessageContent{Body: "x"}); err == nil {
		t.Error("expected error for empty room")
	}
	if _, err := client.SendMessage(context.Background(), "!r", "", MessageContent{Body: "x"}); err == nil {
		t.Error("expected error for empty txn id")
	}
}

func TestNewMatrixError(t *testing.T) {
	tests := []struct {
		name      string
		resp      Response
		wantCode  string
		wantMsg   string
		wantRetry time.Duration
	}{
		{
			name:      "rate limited body",
			resp:      Response{StatusCode: 429, Body: []byte(`{"errcode":"M_LIMIT_EXCEEDED","error":"too many","retry_after_ms":1500}`)},
			wantCode:  ErrCodeLimitExceeded,
			wantMsg:   "too many",
			wantRetry: 1500 * time.Millisecond,
		},
		{
			name:      "retry-after header",
			resp:      Response{StatusCode: 429, Body: []byte(`{"errcode":"M_LIMIT_EXCEEDED","error":"x"}`), Header: http.Header{"Retry-After": []string{"3"}}},
			wantCode:  ErrCodeLimitExceeded,
			wantMsg:   "x",
			wantRetry: 3 * time.Second,
		},
		{
			name:    "plain text body",
			resp:    Response{StatusCode: 502, Body: []byte("bad gateway")},
			wantMsg: "bad gateway",
		},
		{
			name:    "empty body",
			resp:    Response{StatusCode: 500},
			wantMsg: "Internal Server Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newMatrixError(&tt.resp)
			if e.Code != tt.wantCode || e.Message != tt.wantMsg || e.RetryAfter != tt.wantRetry {
				t.Errorf("got %+v", e)
			}
		})
	}
}

func TestRetryAfterIsCapped(t *testing.T) {
	err := &MatrixError{Code: ErrCodeLimitExceeded, RetryAfter: time.Hour}
	if got := RetryAfter(err); got != maxRetryAfter {
		t.Errorf("RetryAfter = %v, want %v", got, maxRetryAfter)
	}
	if got := RetryAfter(errors.New("plain")); got != 0 {
		t.Errorf("RetryAfter(plain) = %v", got)
	}
}

func TestCleanBaseURL(t *testing.T) {
	tests := map[string]string{
		"https://hs.example.org/":                  "https://hs.example.org",
		" https://hs.example.org ":                 "https://hs.example.org",
		"https://hs.example.org/_matrix/client/v3": "https://hs.example.org",
	}
	for in, want := range tests {
		if got := cleanBaseURL(in); got != want {
			t.Errorf("cleanBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalpart(t *testing.T) {
	tests := map[string]string{
		"@bot:example.org": "bot",
		"bot":              "bot",
		"@bare":            "bare",
	}
	for in, want := range tests {
		if got := localpart(in); got != want {
			t.Errorf("localpart(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoginRequestStringMasksPassword(t *testing.T) {
	s := LoginRequest{User: "bot", Password: "hunter2"}.String()
	if strings.Contains(s, "hunter2") {
		t.Errorf("password leaked: %s", s)
	}
}
