// Package config loads and validates the daemon's configuration
// document: a YAML file overlaid with environment variables, unmarshaled
// onto fixed defaults (the same for every tier).
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vx0net/overlayd/internal/tier"
)

// envPrefix namespaces environment variable overrides: OVERLAYD_NETWORK__BGP__LISTEN_PORT
// maps to network.bgp.listen_port.
const envPrefix = "OVERLAYD_"

type Config struct {
	Node       NodeConfig        `koanf:"node"`
	Network    NetworkConfig     `koanf:"network"`
	Security   SecurityConfig    `koanf:"security"`
	Services   ServicesConfig    `koanf:"services"`
	Monitoring MonitoringConfig  `koanf:"monitoring"`
	Bootstrap  *BootstrapConfig  `koanf:"bootstrap"`
	PSK        *PSKConfig        `koanf:"psk"`
}

type LocationConfig struct {
	Country   string  `koanf:"country"`
	Region    string  `koanf:"region"`
	City      string  `koanf:"city"`
	Latitude  float64 `koanf:"latitude"`
	Longitude float64 `koanf:"longitude"`
}

type NodeConfig struct {
	Hostname    string         `koanf:"hostname"`
	ASN         uint32         `koanf:"asn"`
	Tier        string         `koanf:"tier"`
	IPv4Address string         `koanf:"ipv4_address"`
	IPv6Address string         `koanf:"ipv6_address"`
	Location    LocationConfig `koanf:"location"`
}

// ParseTier resolves Tier, accepting the legacy Tier1/Tier2 aliases.
func (n NodeConfig) ParseTier() (tier.Tier, error) {
	t, ok := tier.ParseLegacy(n.Tier)
	if !ok {
		return tier.Edge, fmt.Errorf("config: node.tier %q is not Backbone/Regional/Edge (or legacy Tier1/Tier2)", n.Tier)
	}
	return t, nil
}

type NetworkConfig struct {
	BGP     BGPConfig     `koanf:"bgp"`
	DNS     DNSConfig     `koanf:"dns"`
	Routing RoutingConfig `koanf:"routing"`
}

// BGPConfig configures the peering daemon. KeepaliveTime is carried for
// document fidelity but the session driver always derives its keepalive
// interval as HoldTime/3, per the peering FSM's own timer discipline.
type BGPConfig struct {
	RouterID      string `koanf:"router_id"`
	ListenPort    int    `koanf:"listen_port"`
	HoldTimeSecs  int    `koanf:"hold_time"`
	KeepaliveTime int    `koanf:"keepalive_time"`
}

type DNSConfig struct {
	ListenPort      int      `koanf:"listen_port"`
	UpstreamServers []string `koanf:"upstream_servers"`
	CacheSize       int      `koanf:"cache_size"`
}

type RoutingConfig struct {
	MaxPaths        int    `koanf:"max_paths"`
	LocalPreference uint32 `koanf:"local_preference"`
	MED             uint32 `koanf:"med"`
}

type SecurityConfig struct {
	IKE          IKEConfig          `koanf:"ike"`
	Certificates CertificatesConfig `koanf:"certificates"`
	Encryption   EncryptionConfig   `koanf:"encryption"`
}

type IKEConfig struct {
	ListenPort int    `koanf:"listen_port"`
	DHGroup    string `koanf:"dh_group"`
	EncAlgo    string `koanf:"enc_algo"`
	HashAlgo   string `koanf:"hash_algo"`
	PRFAlgo    string `koanf:"prf_algo"`
}

type CertificatesConfig struct {
	CA       string `koanf:"ca"`
	NodeCert string `koanf:"node_cert"`
	NodeKey  string `koanf:"node_key"`
}

type EncryptionConfig struct {
	Cipher  string `koanf:"cipher"`
	KeySize int    `koanf:"key_size"`
	IVSize  int    `koanf:"iv_size"`
}

type ServicesConfig struct {
	EnableDiscovery bool `koanf:"enable_discovery"`
	DiscoveryPort   int  `koanf:"discovery_port"`
	ServiceTTL      int  `koanf:"service_ttl"`
}

type MonitoringConfig struct {
	EnableMetrics bool   `koanf:"enable_metrics"`
	MetricsPort   int    `koanf:"metrics_port"`
	LogLevel      string `koanf:"log_level"`
}

type BootstrapNode struct {
	Hostname string `koanf:"hostname"`
	IP       string `koanf:"ip"`
	ASN      uint32 `koanf:"asn"`
}

type BootstrapConfig struct {
	Nodes []BootstrapNode `koanf:"nodes"`
}

type PSKConfig struct {
	Default string `koanf:"default"`
}

// HoldTime returns BGP.HoldTimeSecs as a time.Duration.
func (b BGPConfig) HoldTime() time.Duration {
	return time.Duration(b.HoldTimeSecs) * time.Second
}

// Load reads a YAML document at path (if non-empty), overlays
// environment variables, unmarshals onto a defaulted Config, and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Node: NodeConfig{
			Tier: "Edge",
		},
		Network: NetworkConfig{
			BGP: BGPConfig{
				ListenPort:    1179,
				HoldTimeSecs:  90,
				KeepaliveTime: 30,
			},
			DNS: DNSConfig{
				ListenPort: 5300,
				CacheSize:  1024,
			},
			Routing: RoutingConfig{
				MaxPaths:        1,
				LocalPreference: 100,
			},
		},
		Security: SecurityConfig{
			IKE: IKEConfig{
				ListenPort: 500,
				DHGroup:    "X25519",
				EncAlgo:    "AES256GCM",
				HashAlgo:   "SHA256",
				PRFAlgo:    "HMAC-SHA256",
			},
			Encryption: EncryptionConfig{
				Cipher:  "AES256GCM",
				KeySize: 32,
				IVSize:  12,
			},
		},
		Services: ServicesConfig{
			DiscoveryPort: 8080,
			ServiceTTL:    300,
		},
		Monitoring: MonitoringConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
		},
	}
}

// Validate checks the document against the invariants the daemon
// relies on at startup: a resolvable tier/ASN pair, parseable
// addresses, and sane timers.
func (c *Config) Validate() error {
	if c.Node.Hostname == "" {
		return fmt.Errorf("config: node.hostname is required")
	}
	if c.Node.ASN == 0 {
		return fmt.Errorf("config: node.asn is required")
	}
	t, err := c.Node.ParseTier()
	if err != nil {
		return err
	}
	if !tier.InRange(t, c.Node.ASN) {
		min, max := tier.ASNRange(t)
		return fmt.Errorf("config: node.asn %d not valid for %s tier (valid range: %d-%d)", c.Node.ASN, t, min, max)
	}
	if net.ParseIP(c.Node.IPv4Address) == nil {
		return fmt.Errorf("config: node.ipv4_address %q is not a valid IP", c.Node.IPv4Address)
	}
	if c.Node.IPv6Address != "" && net.ParseIP(c.Node.IPv6Address) == nil {
		return fmt.Errorf("config: node.ipv6_address %q is not a valid IP", c.Node.IPv6Address)
	}
	if c.Network.BGP.HoldTimeSecs <= 0 {
		return fmt.Errorf("config: network.bgp.hold_time must be > 0 (got %d)", c.Network.BGP.HoldTimeSecs)
	}
	if c.Network.Routing.MaxPaths <= 0 {
		return fmt.Errorf("config: network.routing.max_paths must be > 0 (got %d)", c.Network.Routing.MaxPaths)
	}
	if c.Security.Encryption.KeySize != 32 {
		return fmt.Errorf("config: security.encryption.key_size must be 32 (got %d)", c.Security.Encryption.KeySize)
	}
	if c.Bootstrap != nil {
		for _, n := range c.Bootstrap.Nodes {
			if net.ParseIP(n.IP) == nil {
				return fmt.Errorf("config: bootstrap node %q has invalid ip %q", n.Hostname, n.IP)
			}
		}
	}
	return nil
}
