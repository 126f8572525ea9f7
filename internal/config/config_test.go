package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	c := defaults()
	c.Node = NodeConfig{
		Hostname:    "node1",
		ASN:         65001,
		Tier:        "Backbone",
		IPv4Address: "10.0.0.1",
		IPv6Address: "::1",
	}
	return c
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoHostname(t *testing.T) {
	cfg := validConfig()
	cfg.Node.Hostname = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty hostname")
	}
}

func TestValidate_NoASN(t *testing.T) {
	cfg := validConfig()
	cfg.Node.ASN = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for asn = 0")
	}
}

func TestValidate_InvalidTier(t *testing.T) {
	cfg := validConfig()
	cfg.Node.Tier = "Unknown"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid tier")
	}
}

func TestValidate_LegacyTierAlias(t *testing.T) {
	cfg := validConfig()
	cfg.Node.Tier = "Tier1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected legacy tier alias to validate, got error: %v", err)
	}
}

func TestValidate_ASNOutsideTierRange(t *testing.T) {
	cfg := validConfig()
	cfg.Node.ASN = 66001 // Edge range, but tier is Backbone
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for asn outside tier range")
	}
}

func TestValidate_InvalidIPv4(t *testing.T) {
	cfg := validConfig()
	cfg.Node.IPv4Address = "not-an-ip"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid ipv4_address")
	}
}

func TestValidate_HoldTimeZero(t *testing.T) {
	cfg := validConfig()
	cfg.Network.BGP.HoldTimeSecs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for hold_time = 0")
	}
}

func TestValidate_KeySizeNot32(t *testing.T) {
	cfg := validConfig()
	cfg.Security.Encryption.KeySize = 16
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for key_size != 32")
	}
}

func TestValidate_BootstrapNodeInvalidIP(t *testing.T) {
	cfg := validConfig()
	cfg.Bootstrap = &BootstrapConfig{Nodes: []BootstrapNode{{Hostname: "seed", IP: "bad-ip", ASN: 65000}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid bootstrap node ip")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
node:
  hostname: node1
  asn: 65001
  tier: Backbone
  ipv4_address: 10.0.0.1
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideHostname(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("OVERLAYD_NODE__HOSTNAME", "envhost")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.Hostname != "envhost" {
		t.Errorf("expected hostname from env, got %q", cfg.Node.Hostname)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("OVERLAYD_MONITORING__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Monitoring.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Monitoring.LogLevel)
	}
}

func TestLoad_EnvEmptyHostnameFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("OVERLAYD_NODE__HOSTNAME", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty hostname via env")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	p := writeMinimalYAML(t)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Network.BGP.ListenPort != 1179 {
		t.Errorf("expected default bgp listen_port 1179, got %d", cfg.Network.BGP.ListenPort)
	}
	if cfg.Security.Encryption.KeySize != 32 {
		t.Errorf("expected default key_size 32, got %d", cfg.Security.Encryption.KeySize)
	}
}
