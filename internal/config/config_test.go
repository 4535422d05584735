package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		UserID:  "f2db41e1fa331b3e",
		BaseDir: "/home/user/.local/share/histsync",
		LogDir:  "/home/user/.local/share/histsync/log",
		Remote: RemoteConfig{
			BaseURL: "https://usegalaxy.example",
			APIKey:  "secret",
			Timeout: Duration{10 * time.Second},
		},
		Store:  StoreConfig{Type: "sqlite", DataDir: "/home/user/.local/share/histsync/cache"},
		Poll:   PollConfig{Interval: Duration{3 * time.Second}, Disabled: true},
		Loader: LoaderConfig{PageSize: 50},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `interval = "3s"`) {
		t.Errorf("Write() output missing duration string:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.UserID != original.UserID {
		t.Errorf("UserID = %q, want %q", got.UserID, original.UserID)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Remote != original.Remote {
		t.Errorf("Remote = %+v, want %+v", got.Remote, original.Remote)
	}
	if got.Store != original.Store {
		t.Errorf("Store = %+v, want %+v", got.Store, original.Store)
	}
	if got.Poll != original.Poll {
		t.Errorf("Poll = %+v, want %+v", got.Poll, original.Poll)
	}
	if got.Loader.PageSize != 50 {
		t.Errorf("Loader.PageSize = %d, want 50", got.Loader.PageSize)
	}
}

func TestManager_Read_Defaults(t *testing.T) {
	m := &Manager{}
	got, err := m.Read(strings.NewReader("user_id = \"u1\"\n[remote]\nbase_url = \"http://x\"\n"))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Poll.Interval.Duration != DefaultPollInterval {
		t.Errorf("Poll.Interval = %v, want %v", got.Poll.Interval, DefaultPollInterval)
	}
	if got.Remote.Timeout.Duration != DefaultTimeout {
		t.Errorf("Remote.Timeout = %v, want %v", got.Remote.Timeout, DefaultTimeout)
	}
	if got.Loader.PageSize != DefaultPageSize {
		t.Errorf("Loader.PageSize = %d, want %d", got.Loader.PageSize, DefaultPageSize)
	}
	if got.Store.Type != "sqlite" {
		t.Errorf("Store.Type = %q, want sqlite", got.Store.Type)
	}
}

func TestManager_Read_BadDuration(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader("[poll]\ninterval = \"soon\"\n")); err == nil {
		t.Error("Read() expected error for invalid duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("user-1", "/data/histsync")

	if cfg.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", cfg.UserID, "user-1")
	}
	if cfg.LogDir != "/data/histsync/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/histsync/log")
	}
	if cfg.Store.DataDir != "/data/histsync/cache" {
		t.Errorf("Store.DataDir = %q, want %q", cfg.Store.DataDir, "/data/histsync/cache")
	}
	if cfg.Poll.Interval.Duration != DefaultPollInterval {
		t.Errorf("Poll.Interval = %v, want %v", cfg.Poll.Interval, DefaultPollInterval)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "conf", "histsync.toml")
		cfg := NewConfig("u1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "histsync.toml")
		cfg := NewConfig("u1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "histsync.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Store = StoreConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.UserID != "read-test" {
			t.Errorf("UserID = %q, want %q", got.UserID, "read-test")
		}
		if got.Store.Type != "memory" {
			t.Errorf("Store.Type = %q, want memory", got.Store.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/histsync.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
