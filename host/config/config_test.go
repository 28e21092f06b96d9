package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atcomm.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[serial]
device = "/dev/ttyACM1"
baud = 57600
read_timeout_ms = 20

[link]
local_id = 10
peer_id = 20
buffer_size = 256
ack_timeout_ms = 250
auto_ack = false
queue_depth = 4

[log]
level = "debug"

[metrics]
addr = ":9110"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Serial.Device != "/dev/ttyACM1" || cfg.Serial.Baud != 57600 || cfg.Serial.ReadTimeout != 20 {
		t.Errorf("serial section mismatch: %+v", cfg.Serial)
	}
	if cfg.Link.LocalID != 10 || cfg.Link.PeerID != 20 || cfg.Link.BufferSize != 256 {
		t.Errorf("link section mismatch: %+v", cfg.Link)
	}
	if cfg.Link.AckTimeout().Milliseconds() != 250 {
		t.Errorf("ack timeout = %v", cfg.Link.AckTimeout())
	}
	if cfg.Link.AutoAckEnabled() {
		t.Error("auto_ack = false not honored")
	}
	if cfg.Log.Level != "debug" || cfg.Metrics.Addr != ":9110" {
		t.Errorf("log/metrics mismatch: %+v %+v", cfg.Log, cfg.Metrics)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[serial]
device = "/dev/ttyS0"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("default baud = %d", cfg.Serial.Baud)
	}
	if cfg.Link.LocalID != 1 || cfg.Link.PeerID != 2 {
		t.Errorf("default ids = %d/%d", cfg.Link.LocalID, cfg.Link.PeerID)
	}
	if cfg.Link.BufferSize != 512 || cfg.Link.QueueDepth != 16 {
		t.Errorf("default link sizes: %+v", cfg.Link)
	}
	if !cfg.Link.AutoAckEnabled() {
		t.Error("auto_ack should default to true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level = %q", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"same ids":      "[link]\nlocal_id = 3\npeer_id = 3\n",
		"tiny buffer":   "[link]\nbuffer_size = 8\n",
		"bad log level": "[log]\nlevel = \"loud\"\n",
		"unknown key":   "[link]\nretries = 3\n",
		"id overflow":   "[link]\nlocal_id = 300\n",
		"not toml":      "[link\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "missing.toml") {
		t.Errorf("expected error naming the file, got %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}

func TestValidateBaud(t *testing.T) {
	for _, baud := range []int{0, -9600} {
		cfg := Default()
		cfg.Serial.Baud = baud
		if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "baud") {
			t.Errorf("baud %d: expected a baud error, got %v", baud, err)
		}
	}
}
