package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, logLevel string) {
	t.Helper()
	content := strings.Replace(validYAML, "log_level: info", "log_level: "+logLevel, 1)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evanote.yaml")
	writeConfigFile(t, path, "info")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("initial log level = %q, want info", got)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evanote.yaml")
	writeConfigFile(t, path, "info")

	changed := make(chan ConfigDiff, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		select {
		case changed <- Diff(old, new):
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Rewrite with a different log level. Bump mtime explicitly in case the
	// filesystem's timestamp resolution is coarser than the poll interval.
	writeConfigFile(t, path, "debug")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case d := <-changed:
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Errorf("unexpected diff: %+v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the change")
	}

	if got := w.Current().Server.LogLevel; got != LogDebug {
		t.Errorf("current log level = %q, want debug", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evanote.yaml")
	writeConfigFile(t, path, "info")

	w, err := NewWatcher(path, func(old, new *Config) {
		t.Error("onChange fired for an invalid config")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("llm: [broken"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("current config replaced by invalid file: log level = %q", got)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}
