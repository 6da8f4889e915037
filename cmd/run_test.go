package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shawkym/roomsync/pkg/config"
	"github.com/shawkym/roomsync/pkg/log"
	"github.com/shawkym/roomsync/pkg/session"
)

const initialSync = `{
  "next_batch": "s1",
  "rooms": {
    "join": {
      "!lobby:example.org": {
        "state": {"events": [
          {"type": "m.room.name", "state_key": "", "sender": "@alice:example.org", "content": {"name": "Lobby"}},
          {"type": "m.room.member", "state_key": "@alice:example.org", "sender": "@alice:example.org", "content": {"membership": "join"}},
          {"type": "m.room.member", "state_key": "@bob:example.org", "sender": "@bob:example.org", "content": {"membership": "join"}}
        ]},
        "timeline": {"events": [
          {"type": "m.room.message", "event_id": "$m1", "sender": "@bob:example.org", "origin_server_ts": 1700000000000,
           "content": {"msgtype": "m.text", "body": "hello"}}
        ]}
      },
      "!dev:example.org": {
        "state": {"events": [
          {"type": "m.room.name", "state_key": "", "sender": "@alice:example.org", "content": {"name": "Dev Talk"}}
        ]}
      }
    }
  }
}`

// fakeHomeserver answers the handful of client-server endpoints the
// commands use.
type fakeHomeserver struct {
	*httptest.Server

	mu       sync.Mutex
	logins   int
	syncs    []string
	joins    []string
	messages []string
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	f := &fakeHomeserver{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case path == "/_matrix/client/v3/login":
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "hunter2" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"Invalid password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","user_id":"@alice:example.org","device_id":"DEV"}`))

	case path == "/_matrix/client/v3/sync":
		since := r.URL.Query().Get("since")
		f.mu.Lock()
		f.syncs = append(f.syncs, since)
		f.mu.Unlock()
		if since == "" {
			_, _ = w.Write([]byte(initialSync))
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
		_, _ = w.Write([]byte(`{"next_batch":"s2"}`))

	case strings.HasPrefix(path, "/_matrix/client/v3/join/"):
		room := strings.TrimPrefix(path, "/_matrix/client/v3/join/")
		f.mu.Lock()
		f.joins = append(f.joins, room)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"room_id":"!lobby:example.org"}`))

	case strings.HasPrefix(path, "/_matrix/client/v3/rooms/"):
		var content map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&content)
		f.mu.Lock()
		f.messages = append(f.messages, path+" "+content["body"].(string))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"event_id":"$sent"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errcode":"M_UNRECOGNIZED"}`))
	}
}

func (f *fakeHomeserver) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

// testConfig writes a config for server into a temp dir and points the
// commands at it.
func testConfig(t *testing.T, server *fakeHomeserver, mutate func(*config.Config)) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewDefaultConfig()
	cfg.Homeserver = server.URL
	cfg.UserID = "@alice:example.org"
	cfg.Password = "hunter2"
	cfg.SessionFile = filepath.Join(dir, "session.json")
	cfg.Logging.Enabled = false
	cfg.Logging.Console = false
	cfg.Logging.Level = "error"
	cfg.Archive.Path = filepath.Join(dir, "archive.db")
	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	oldCfgFile := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = oldCfgFile })
	return cfg
}

func stubPassword(t *testing.T, password string, err error) *int {
	t.Helper()
	calls := 0
	old := readPassword
	readPassword = func(string) (string, error) {
		calls++
		return password, err
	}
	t.Cleanup(func() { readPassword = old })
	return &calls
}

func TestEnsureLoginPersistsAndReuses(t *testing.T) {
	server := newFakeHomeserver(t)
	cfg := testConfig(t, server, func(c *config.Config) { c.Password = "" })
	prompts := stubPassword(t, "hunter2", nil)

	eng, err := newEngine(cfg, nil, nil)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	if err := ensureLogin(context.Background(), eng, cfg, false); err != nil {
		t.Fatalf("ensureLogin: %v", err)
	}
	if *prompts != 1 {
		t.Errorf("password prompted %d times, want 1", *prompts)
	}

	record, err := session.Load(cfg.SessionFile)
	if err != nil {
		t.Fatalf("session.Load: %v", err)
	}
	if record.AccessToken != "tok" {
		t.Errorf("saved token = %q, want tok", record.AccessToken)
	}

	// A restored session skips login and logs the configured user.
	eng2, err := newEngine(cfg, nil, nil)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	var logs bytes.Buffer
	log.InitLogger(&logs, zerolog.DebugLevel, false)
	t.Cleanup(func() { log.InitLogger(os.Stderr, zerolog.ErrorLevel, true) })
	if err := ensureLogin(context.Background(), eng2, cfg, false); err != nil {
		t.Fatalf("ensureLogin: %v", err)
	}
	if !strings.Contains(logs.String(), `"user_id":"@alice:example.org"`) {
		t.Errorf("reuse log missing user id: %s", logs.String())
	}
	if server.loginCount() != 1 {
		t.Errorf("logins = %d, want 1", server.loginCount())
	}

	if err := ensureLogin(context.Background(), eng2, cfg, true); err != nil {
		t.Fatalf("forced ensureLogin: %v", err)
	}
	if server.loginCount() != 2 {
		t.Errorf("logins after force = %d, want 2", server.loginCount())
	}
}

func TestEnsureLoginErrors(t *testing.T) {
	server := newFakeHomeserver(t)

	t.Run("no user", func(t *testing.T) {
		cfg := testConfig(t, server, func(c *config.Config) { c.UserID = "" })
		eng, err := newEngine(cfg, nil, nil)
		if err != nil {
			t.Fatalf("newEngine: %v", err)
		}
		err = ensureLogin(context.Background(), eng, cfg, false)
		if err == nil || !strings.Contains(err.Error(), "no user configured") {
			t.Errorf("error = %v, want no user configured", err)
		}
	})

	t.Run("prompt fails", func(t *testing.T) {
		cfg := testConfig(t, server, func(c *config.Config) { c.Password = "" })
		stubPassword(t, "", errors.New("not a terminal"))
		eng, err := newEngine(cfg, nil, nil)
		if err != nil {
			t.Fatalf("newEngine: %v", err)
		}
		if err := ensureLogin(context.Background(), eng, cfg, false); err == nil {
			t.Error("expected prompt error")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		cfg := testConfig(t, server, func(c *config.Config) { c.Password = "wrong" })
		eng, err := newEngine(cfg, nil, nil)
		if err != nil {
			t.Fatalf("newEngine: %v", err)
		}
		if err := ensureLogin(context.Background(), eng, cfg, false); err == nil {
			t.Error("expected login error")
		}
		if _, err := os.Stat(cfg.SessionFile); !os.IsNotExist(err) {
			t.Errorf("session file written after failed login: %v", err)
		}
	})
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	oldCfgFile := cfgFile
	cfgFile = ""
	t.Cleanup(func() { cfgFile = oldCfgFile })

	t.Setenv(config.EnvHomeserver, "https://matrix.example.org")
	t.Setenv(config.EnvUser, "@carol:example.org")
	t.Setenv(config.EnvPassword, "secret")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Homeserver != "https://matrix.example.org" || cfg.UserID != "@carol:example.org" || cfg.Password != "secret" {
		t.Errorf("got homeserver=%q user=%q password set=%v", cfg.Homeserver, cfg.UserID, cfg.Password != "")
	}
}

func TestLoadConfigExplicitFileMissing(t *testing.T) {
	oldCfgFile := cfgFile
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = oldCfgFile })

	if _, err := loadConfig(); err == nil {
		t.Error("expected error for a missing --config file")
	}
}

func TestRoomsCommand(t *testing.T) {
	server := newFakeHomeserver(t)
	cfg := testConfig(t, server, nil)

	tests := []struct {
		name    string
		args    []string
		exact   bool
		ids     bool
		users   bool
		contact string
		want    []string
		notWant []string
	}{
		{
			name: "all rooms",
			want: []string{"ROOM ID", "!lobby:example.org", "Lobby", "!dev:example.org", "Dev Talk"},
		},
		{
			name:    "substring filter ignores case",
			args:    []string{"LOB"},
			want:    []string{"!lobby:example.org"},
			notWant: []string{"!dev:example.org"},
		},
		{
			name:    "exact filter",
			args:    []string{"dev"},
			exact:   true,
			want:    []string{"No rooms found."},
			notWant: []string{"!dev:example.org"},
		},
		{
			name: "ids only",
			ids:  true,
			want: []string{"!lobby:example.org\n!dev:example.org\n"},
		},
		{
			name:  "users",
			users: true,
			want: []string{"@alice:example.org\n@bob:example.org\n"},
		},
		{
			name:    "contact",
			contact: "BOB",
			want:    []string{"@bob:example.org"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roomsExact, roomsIDs, roomsUsers, roomsContact = tt.exact, tt.ids, tt.users, tt.contact
			t.Cleanup(func() { roomsExact, roomsIDs, roomsUsers, roomsContact = false, false, false, "" })

			var out bytes.Buffer
			roomsCmd.SetOut(&out)
			roomsCmd.SetContext(context.Background())
			if err := roomsCmd.RunE(roomsCmd, tt.args); err != nil {
				t.Fatalf("rooms: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out.String(), nw) {
					t.Errorf("output should not contain %q:\n%s", nw, out.String())
				}
			}
		})
	}

	// Listing never advances the saved cursor.
	record, err := session.Load(cfg.SessionFile)
	if err != nil {
		t.Fatalf("session.Load: %v", err)
	}
	if record.NextBatch != "" {
		t.Errorf("saved cursor = %q, want empty", record.NextBatch)
	}
}

func TestRoomsCommandUnknownContact(t *testing.T) {
	server := newFakeHomeserver(t)
	testConfig(t, server, nil)

	roomsContact = "nobody"
	t.Cleanup(func() { roomsContact = "" })

	roomsCmd.SetOut(&bytes.Buffer{})
	roomsCmd.SetContext(context.Background())
	if err := roomsCmd.RunE(roomsCmd, nil); err == nil {
		t.Error("expected error for an unknown contact")
	}
}

func TestSendCommand(t *testing.T) {
	server := newFakeHomeserver(t)
	testConfig(t, server, nil)

	tests := []struct {
		name      string
		args      []string
		wantJoins int
		wantPath  string
	}{
		{
			name:     "room id",
			args:     []string{"!dev:example.org", "hi", "there"},
			wantPath: "/_matrix/client/v3/rooms/!dev:example.org/send/m.room.message/",
		},
		{
			name:      "alias is joined first",
			args:      []string{"#lobby:example.org", "hello"},
			wantJoins: 1,
			wantPath:  "/_matrix/client/v3/rooms/!lobby:example.org/send/m.room.message/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server.mu.Lock()
			server.joins, server.messages = nil, nil
			server.mu.Unlock()

			var out bytes.Buffer
			sendCmd.SetOut(&out)
			sendCmd.SetContext(context.Background())
			if err := sendCmd.RunE(sendCmd, tt.args); err != nil {
				t.Fatalf("send: %v", err)
			}
			if strings.TrimSpace(out.String()) != "$sent" {
				t.Errorf("output = %q, want $sent", out.String())
			}

			server.mu.Lock()
			defer server.mu.Unlock()
			if len(server.joins) != tt.wantJoins {
				t.Errorf("joins = %v, want %d", server.joins, tt.wantJoins)
			}
			if len(server.messages) != 1 || !strings.HasPrefix(server.messages[0], tt.wantPath) {
				t.Errorf("messages = %v, want one under %s", server.messages, tt.wantPath)
			}
			if want := strings.Join(tt.args[1:], " "); !strings.HasSuffix(server.messages[0], " "+want) {
				t.Errorf("body = %q, want %q", server.messages[0], want)
			}
		})
	}
}

func TestSendCommandRejectsEmptyMessage(t *testing.T) {
	sendCmd.SetContext(context.Background())
	if err := sendCmd.RunE(sendCmd, []string{"!r:x", "  "}); err == nil {
		t.Error("expected error for a blank message")
	}
}

func TestApplyRunFlags(t *testing.T) {
	flags := runCmd.Flags()
	t.Cleanup(func() {
		for _, name := range []string{"no-log", "auto-join", "archive", "full-state"} {
			_ = flags.Set(name, "false")
			flags.Lookup(name).Changed = false
		}
		_ = flags.Set("metrics-addr", "")
		_ = flags.Set("log-dir", "")
		flags.Lookup("metrics-addr").Changed = false
		flags.Lookup("log-dir").Changed = false
	})

	cfg := config.NewDefaultConfig()
	cfg.AutoJoin.Enabled = true
	applyRunFlags(flags, cfg)
	if !cfg.AutoJoin.Enabled || !cfg.Logging.Enabled || cfg.Archive.Enabled {
		t.Fatalf("unset flags changed config: %+v", cfg)
	}

	for name, value := range map[string]string{
		"no-log":       "true",
		"auto-join":    "false",
		"archive":      "true",
		"full-state":   "true",
		"metrics-addr": "127.0.0.1:0",
		"log-dir":      "/tmp/chats",
	} {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}
	applyRunFlags(flags, cfg)

	if cfg.Logging.Enabled {
		t.Error("--no-log should disable the chat log")
	}
	if cfg.Logging.ChatLogDir != "/tmp/chats" {
		t.Errorf("ChatLogDir = %q", cfg.Logging.ChatLogDir)
	}
	if cfg.AutoJoin.Enabled {
		t.Error("--auto-join=false should override config")
	}
	if !cfg.Archive.Enabled || !cfg.Sync.FullState {
		t.Error("--archive and --full-state should be applied")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "127.0.0.1:0" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestPipelineRunArchivesUntilForegroundReturns(t *testing.T) {
	server := newFakeHomeserver(t)
	cfg := testConfig(t, server, func(c *config.Config) {
		c.Archive.Enabled = true
		c.Logging.Enabled = true
		c.Logging.ChatLogDir = filepath.Join(filepath.Dir(c.SessionFile), "chats")
	})

	var console bytes.Buffer
	p, err := newPipeline(cfg, pipelineOptions{console: &console})
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	defer p.Close()

	if p.archive == nil || p.chat == nil || p.autoJoin == nil {
		t.Fatalf("pipeline missing consumers: %+v", p)
	}
	if p.metricsServer != nil || p.watcher != nil {
		t.Error("metrics and watcher should be off")
	}

	ctx := context.Background()
	if err := ensureLogin(ctx, p.engine, cfg, false); err != nil {
		t.Fatalf("ensureLogin: %v", err)
	}

	err = p.run(ctx, func(ctx context.Context) error {
		deadline := time.After(5 * time.Second)
		for {
			n, err := p.archive.Count(ctx, "")
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
			select {
			case <-deadline:
				return errors.New("nothing archived")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs, err := p.archive.Recent(ctx, "!lobby:example.org", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("archived = %+v", msgs)
	}

	// Run persists the advanced cursor on the way out.
	record, err := session.Load(cfg.SessionFile)
	if err != nil {
		t.Fatalf("session.Load: %v", err)
	}
	if record.NextBatch == "" {
		t.Error("cursor was not persisted")
	}

	logData, err := os.ReadFile(p.chat.Path())
	if err != nil {
		t.Fatalf("read chat log: %v", err)
	}
	if !strings.Contains(string(logData), "hello") {
		t.Errorf("chat log missing message:\n%s", logData)
	}
}

func TestPipelineApplyReload(t *testing.T) {
	server := newFakeHomeserver(t)
	cfg := testConfig(t, server, nil)

	p, err := newPipeline(cfg, pipelineOptions{watchPath: cfgFile})
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	defer p.Close()
	if p.watcher == nil {
		t.Fatal("watcher not created")
	}

	updated := *cfg
	updated.AutoJoin.Enabled = true
	p.applyReload(cfg, &updated)
	if !p.autoJoin.Enabled() {
		t.Error("reload should enable auto-join")
	}
}
