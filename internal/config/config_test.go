package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: listener-qa-1
api:
  rest_url: https://qms.example.com/api
  ws_url: wss://qms.example.com/ws
session:
  user_id: u-17
  department_id: qa
realtime:
  reconnect_base_delay: 500ms
  max_reconnect_attempts: 8
archive:
  enabled: true
  database:
    host: localhost
    name: qms_archive
    user: listener
    password: testpass
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "listener-qa-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "listener-qa-1")
	}
	if cfg.API.WSURL != "wss://qms.example.com/ws" {
		t.Errorf("API.WSURL = %q, want %q", cfg.API.WSURL, "wss://qms.example.com/ws")
	}
	if cfg.Session.DepartmentID != "qa" {
		t.Errorf("Session.DepartmentID = %q, want %q", cfg.Session.DepartmentID, "qa")
	}
	if cfg.Realtime.ReconnectBaseDelay != 500*time.Millisecond {
		t.Errorf("Realtime.ReconnectBaseDelay = %v, want 500ms", cfg.Realtime.ReconnectBaseDelay)
	}
	if cfg.Realtime.MaxReconnectAttempts != 8 {
		t.Errorf("Realtime.MaxReconnectAttempts = %d, want 8", cfg.Realtime.MaxReconnectAttempts)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Database.Name != "qms_archive" {
		t.Errorf("Archive = %+v, want enabled with database qms_archive", cfg.Archive)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_QMS_USER", "u-99")
	t.Setenv("TEST_REDIS_PASSWORD", "secret123")

	yaml := `
instance:
  id: listener
api:
  ws_url: wss://qms.example.com/ws
session:
  user_id: ${TEST_QMS_USER}
relay:
  enabled: true
  password: ${TEST_REDIS_PASSWORD}
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.UserID != "u-99" {
		t.Errorf("Session.UserID = %q, want %q", cfg.Session.UserID, "u-99")
	}
	if cfg.Relay.Password != "secret123" {
		t.Errorf("Relay.Password = %q, want %q", cfg.Relay.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: listener
api:
  ws_url: ws://localhost:8080/ws
session:
  user_id: u-1
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Realtime.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("ReconnectBaseDelay = %v, want default %v", cfg.Realtime.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Realtime.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("ReconnectMaxDelay = %v, want default %v", cfg.Realtime.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Realtime.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want default %d", cfg.Realtime.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Archive.Database.Port != DefaultDBPort {
		t.Errorf("Archive.Database.Port = %d, want default %d", cfg.Archive.Database.Port, DefaultDBPort)
	}
	if cfg.Relay.ChannelPrefix != DefaultChannelPrefix {
		t.Errorf("Relay.ChannelPrefix = %q, want default %q", cfg.Relay.ChannelPrefix, DefaultChannelPrefix)
	}
	if cfg.Health.Port != DefaultHealthPort {
		t.Errorf("Health.Port = %d, want default %d", cfg.Health.Port, DefaultHealthPort)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging.Format = %q, want default %q", cfg.Logging.Format, DefaultLogFormat)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaulted config should validate: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	t.Run("missing default file is ignored", func(t *testing.T) {
		if err := LoadEnvFile("", configPath); err != nil {
			t.Errorf("LoadEnvFile() unexpected error: %v", err)
		}
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		if err := LoadEnvFile(filepath.Join(dir, "nope.env"), configPath); err == nil {
			t.Error("LoadEnvFile() expected error for missing explicit file")
		}
	})

	t.Run("default file beside config", func(t *testing.T) {
		t.Setenv("TEST_QMS_ENVFILE_USER", "")
		os.Unsetenv("TEST_QMS_ENVFILE_USER")
		t.Setenv("TEST_QMS_ENVFILE_KEEP", "from-process")

		if err := os.WriteFile(filepath.Join(dir, ".env"),
			[]byte("TEST_QMS_ENVFILE_USER=u-42\nTEST_QMS_ENVFILE_KEEP=from-file\n"), 0644); err != nil {
			t.Fatalf("write env file: %v", err)
		}

		if err := LoadEnvFile("", configPath); err != nil {
			t.Fatalf("LoadEnvFile() error: %v", err)
		}
		if got := os.Getenv("TEST_QMS_ENVFILE_USER"); got != "u-42" {
			t.Errorf("TEST_QMS_ENVFILE_USER = %q, want %q", got, "u-42")
		}
		if got := os.Getenv("TEST_QMS_ENVFILE_KEEP"); got != "from-process" {
			t.Errorf("existing variable overridden: got %q", got)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() ListenerConfig {
		cfg := ListenerConfig{
			Instance: InstanceConfig{ID: "test"},
			API:      APIConfig{WSURL: "wss://qms.example.com/ws"},
			Session:  SessionConfig{UserID: "u-1"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*ListenerConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *ListenerConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing ws url",
			mutate:  func(c *ListenerConfig) { c.API.WSURL = "" },
			wantErr: "api.ws_url is required",
		},
		{
			name:    "http ws url",
			mutate:  func(c *ListenerConfig) { c.API.WSURL = "https://qms.example.com/ws" },
			wantErr: `api.ws_url must be a ws:// or wss:// url, got "https://qms.example.com/ws"`,
		},
		{
			name:    "missing user",
			mutate:  func(c *ListenerConfig) { c.Session.UserID = "" },
			wantErr: "session.user_id is required",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *ListenerConfig) { c.Realtime.ReconnectMaxDelay = 500 * time.Millisecond },
			wantErr: "realtime.reconnect_max_delay (500ms) cannot be less than reconnect_base_delay (1s)",
		},
		{
			name:    "ping timeout not above interval",
			mutate:  func(c *ListenerConfig) { c.Realtime.PingTimeout = c.Realtime.PingInterval },
			wantErr: "realtime.ping_timeout (30s) must exceed ping_interval (30s)",
		},
		{
			name: "archive missing password",
			mutate: func(c *ListenerConfig) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 4}
			},
			wantErr: "archive.database.password is required",
		},
		{
			name: "archive min_conns exceeds max_conns",
			mutate: func(c *ListenerConfig) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "archive.database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name: "archive negative flush interval",
			mutate: func(c *ListenerConfig) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 4}
				c.Archive.FlushInterval = -time.Second
			},
			wantErr: "archive.flush_interval must be > 0, got -1s",
		},
		{
			name:    "archive disabled skips database checks",
			mutate:  func(c *ListenerConfig) { c.Archive.Database = DBConfig{} },
			wantErr: "",
		},
		{
			name:    "bad health port",
			mutate:  func(c *ListenerConfig) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log format",
			mutate:  func(c *ListenerConfig) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "valid config",
			mutate:  func(*ListenerConfig) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
