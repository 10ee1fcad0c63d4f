package config

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
// The three timeout knobs may be negative, which disables the
// corresponding deadline.
type AppConfig struct {
	CacheSize uint `koanf:"cache_size" validate:"required,gte=1"`

	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Port is the network port the resolver will bind to.
	Port int `koanf:"port" validate:"required,gte=1,lt=65535"`

	// Upstream is a list of forwarders in ip:port format. A non-empty list
	// switches the resolver to forwarding mode.
	Upstream []string `koanf:"upstream" validate:"omitempty,dive,ip_port"`

	// Roots seeds the address store for the root zone in recursive mode.
	Roots []string `koanf:"roots" validate:"required,dive,ip_port"`

	// QueryTimeoutMs is the per-fetch deadline in milliseconds.
	QueryTimeoutMs int `koanf:"query_timeout_ms"`

	// ClientTimeoutMs is the soft deadline for delivering any answer.
	ClientTimeoutMs int `koanf:"client_timeout_ms"`

	// LookupTimeoutMs is the hard deadline for total work per query.
	LookupTimeoutMs int `koanf:"lookup_timeout_ms"`

	// Retries is the number of re-sends after a fetch timeout.
	Retries int `koanf:"retries" validate:"gte=0"`

	// DenylistPath points at a hosts-format file of blocked names.
	// Empty disables the denylist.
	DenylistPath string `koanf:"denylist_path"`

	// DenylistDB is where the denylist index database lives.
	DenylistDB string `koanf:"denylist_db"`
}

// DEFAULT_APP_CONFIG defines the default settings for the resolver daemon.
// Roots default to the thirteen root server v4 addresses.
var DEFAULT_APP_CONFIG = AppConfig{
	CacheSize: 10000,
	Env:       "prod",
	LogLevel:  "info",
	Port:      53,
	Upstream:  nil,
	Roots: []string{
		"198.41.0.4:53",     // a.root-servers.net
		"199.9.14.201:53",   // b.root-servers.net
		"192.33.4.12:53",    // c.root-servers.net
		"199.7.91.13:53",    // d.root-servers.net
		"192.203.230.10:53", // e.root-servers.net
		"192.5.5.241:53",    // f.root-servers.net
		"192.112.36.4:53",   // g.root-servers.net
		"198.97.190.53:53",  // h.root-servers.net
		"192.36.148.17:53",  // i.root-servers.net
		"192.58.128.30:53",  // j.root-servers.net
		"193.0.14.129:53",   // k.root-servers.net
		"199.7.83.42:53",    // l.root-servers.net
		"202.12.27.33:53",   // m.root-servers.net
	},
	QueryTimeoutMs:  2000,
	ClientTimeoutMs: 4000,
	LookupTimeoutMs: 30000,
	Retries:         3,
	DenylistPath:    "",
	DenylistDB:      "/var/lib/rr-resolved/denylist.db",
}

// validIPPort validates that a field holds a valid "ip:port" endpoint.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envLoader loads environment variables with the prefix "RESOLVED_",
// lowercasing keys and splitting list values on spaces and commas.
// It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "RESOLVED_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "RESOLVED_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG into the Koanf instance.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation associates the "ip_port" tag with validIPPort.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

// UpstreamAddrs parses the upstream list into endpoints.
func (c *AppConfig) UpstreamAddrs() ([]netip.AddrPort, error) {
	return parseAddrPorts(c.Upstream)
}

// RootAddrs parses the root hints into endpoints.
func (c *AppConfig) RootAddrs() ([]netip.AddrPort, error) {
	return parseAddrPorts(c.Roots)
}

func parseAddrPorts(in []string) ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(in))
	for _, s := range in {
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", s, err)
		}
		out = append(out, ap)
	}
	return out, nil
}
