package tornago

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// opOnion labels errors originating from onion (hidden) service management.
const opOnion = "OnionService"

// HiddenServiceConfig describes the desired onion service to create via
// ADD_ONION.
type HiddenServiceConfig struct {
	keyType    string
	privateKey string
	targetPort map[int]int
	clientAuth []HiddenServiceAuth
}

// HiddenServiceOption customizes HiddenServiceConfig creation.
type HiddenServiceOption func(*HiddenServiceConfig)

// NewHiddenServiceConfig returns a validated, immutable configuration.
func NewHiddenServiceConfig(opts ...HiddenServiceOption) (HiddenServiceConfig, error) {
	cfg := HiddenServiceConfig{targetPort: make(map[int]int)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return normalizeHiddenServiceConfig(cfg)
}

// KeyType returns the key type (e.g. "ED25519-V3").
func (c HiddenServiceConfig) KeyType() string { return c.keyType }

// PrivateKey returns the optional private key blob.
func (c HiddenServiceConfig) PrivateKey() string { return c.privateKey }

// Ports returns a copy of the configured virtual -> target port mapping.
func (c HiddenServiceConfig) Ports() map[int]int {
	cp := make(map[int]int, len(c.targetPort))
	for k, v := range c.targetPort {
		cp[k] = v
	}
	return cp
}

// ClientAuth returns a copy of the configured client authorization entries.
func (c HiddenServiceConfig) ClientAuth() []HiddenServiceAuth {
	cp := make([]HiddenServiceAuth, len(c.clientAuth))
	copy(cp, c.clientAuth)
	return cp
}

// WithHiddenServiceKeyType sets the key type (default: "ED25519-V3").
func WithHiddenServiceKeyType(keyType string) HiddenServiceOption {
	return func(cfg *HiddenServiceConfig) { cfg.keyType = keyType }
}

// WithHiddenServicePrivateKey uses an existing private key blob.
func WithHiddenServicePrivateKey(privateKey string) HiddenServiceOption {
	return func(cfg *HiddenServiceConfig) { cfg.privateKey = privateKey }
}

// WithHiddenServicePort maps a virtual port to a local target port.
func WithHiddenServicePort(virtualPort, targetPort int) HiddenServiceOption {
	return func(cfg *HiddenServiceConfig) {
		if cfg.targetPort == nil {
			cfg.targetPort = make(map[int]int)
		}
		cfg.targetPort[virtualPort] = targetPort
	}
}

// WithHiddenServicePorts adds every virtual -> target pair in ports to the
// mapping, replacing an earlier target for the same virtual port.
func WithHiddenServicePorts(ports map[int]int) HiddenServiceOption {
	return func(cfg *HiddenServiceConfig) {
		if cfg.targetPort == nil {
			cfg.targetPort = make(map[int]int, len(ports))
		}
		for k, v := range ports {
			cfg.targetPort[k] = v
		}
	}
}

// WithHiddenServiceClientAuth appends client authorization entries.
func WithHiddenServiceClientAuth(auth ...HiddenServiceAuth) HiddenServiceOption {
	return func(cfg *HiddenServiceConfig) { cfg.clientAuth = append(cfg.clientAuth, auth...) }
}

// WithHiddenServiceSamePort maps a port to itself.
func WithHiddenServiceSamePort(port int) HiddenServiceOption {
	return WithHiddenServicePort(port, port)
}

// WithHiddenServiceHTTP maps port 80 to the specified local port.
func WithHiddenServiceHTTP(localPort int) HiddenServiceOption {
	return WithHiddenServicePort(80, localPort)
}

// WithHiddenServiceHTTPS maps port 443 to the specified local port.
func WithHiddenServiceHTTPS(localPort int) HiddenServiceOption {
	return WithHiddenServicePort(443, localPort)
}

// HiddenServiceAuth describes Tor v3 client authorization information.
type HiddenServiceAuth struct {
	clientName string
	key        string
}

// NewHiddenServiceAuth returns a client auth entry.
func NewHiddenServiceAuth(clientName, key string) HiddenServiceAuth {
	return HiddenServiceAuth{clientName: clientName, key: key}
}

// ClientName returns the configured auth client name.
func (a HiddenServiceAuth) ClientName() string { return a.clientName }

// Key returns the authorization key.
func (a HiddenServiceAuth) Key() string { return a.key }

// HiddenService represents a provisioned onion service, identified by its
// .onion address, created via ADD_ONION over an authenticated Engine.
type HiddenService interface {
	OnionAddress() string
	PrivateKey() string
	Ports() map[int]int
	ClientAuth() []HiddenServiceAuth
	Remove(ctx context.Context) error
	SavePrivateKey(path string) error
}

type hiddenService struct {
	engine     *Engine
	address    string
	privateKey string
	ports      map[int]int
	auth       []HiddenServiceAuth
}

func (h *hiddenService) OnionAddress() string { return h.address }
func (h *hiddenService) PrivateKey() string   { return h.privateKey }

func (h *hiddenService) Ports() map[int]int {
	cp := make(map[int]int, len(h.ports))
	for k, v := range h.ports {
		cp[k] = v
	}
	return cp
}

func (h *hiddenService) ClientAuth() []HiddenServiceAuth {
	cp := make([]HiddenServiceAuth, len(h.auth))
	copy(cp, h.auth)
	return cp
}

// Remove deletes the hidden service via DEL_ONION.
func (h *hiddenService) Remove(ctx context.Context) error {
	serviceID := strings.TrimSuffix(h.address, ".onion")
	if _, err := h.engine.QueueCommand(ctx, "DEL_ONION "+serviceID); err != nil {
		return newError(ErrHiddenServiceFailed, opOnion, "failed to remove hidden service", err)
	}
	return nil
}

// SavePrivateKey saves the hidden service's private key to a file with 0600
// permissions so it can be reused with WithHiddenServicePrivateKey.
func (h *hiddenService) SavePrivateKey(path string) error {
	if h.privateKey == "" {
		return newError(ErrInvalidConfig, opOnion, "private key is empty", nil)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return newError(ErrIO, opOnion, "failed to create directory", err)
	}
	// #nosec G306 -- 0600 is appropriate for private key material.
	if err := os.WriteFile(path, []byte(h.privateKey), 0o600); err != nil {
		return newError(ErrIO, opOnion, "failed to write private key", err)
	}
	return nil
}

// CreateHiddenService issues ADD_ONION against engine and returns a handle to
// the provisioned service.
func CreateHiddenService(ctx context.Context, engine *Engine, cfg HiddenServiceConfig) (HiddenService, error) {
	cfg, err := normalizeHiddenServiceConfig(cfg)
	if err != nil {
		return nil, err
	}

	lines, err := engine.QueueCommand(ctx, buildAddOnionCommand(cfg))
	if err != nil {
		return nil, err
	}

	var serviceID string
	privateKey := cfg.PrivateKey()
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "ServiceID="):
			serviceID = strings.TrimPrefix(line, "ServiceID=")
		case strings.HasPrefix(line, "PrivateKey="):
			privateKey = strings.TrimPrefix(line, "PrivateKey=")
		}
	}
	if serviceID == "" {
		return nil, newError(ErrHiddenServiceFailed, opOnion, "tor did not return ServiceID", nil)
	}

	return &hiddenService{
		engine:     engine,
		address:    serviceID + ".onion",
		privateKey: privateKey,
		ports:      cfg.Ports(),
		auth:       cfg.ClientAuth(),
	}, nil
}

// normalizeHiddenServiceConfig applies defaults and validates the configuration.
func normalizeHiddenServiceConfig(cfg HiddenServiceConfig) (HiddenServiceConfig, error) {
	cfg = applyHiddenServiceDefaults(cfg)
	if err := validateHiddenServiceConfig(cfg); err != nil {
		return HiddenServiceConfig{}, err
	}
	cfg.targetPort = cfg.Ports()
	cfg.clientAuth = cfg.ClientAuth()
	return cfg, nil
}

func applyHiddenServiceDefaults(cfg HiddenServiceConfig) HiddenServiceConfig {
	if cfg.keyType == "" {
		cfg.keyType = "ED25519-V3"
	}
	return cfg
}

func validateHiddenServiceConfig(cfg HiddenServiceConfig) error {
	if cfg.keyType == "" {
		return newError(ErrInvalidConfig, opOnion, "KeyType is empty", nil)
	}
	if len(cfg.targetPort) == 0 {
		return newError(ErrInvalidConfig, opOnion, "TargetPorts must not be empty", nil)
	}
	for virt, tgt := range cfg.targetPort {
		if virt <= 0 || virt > 65535 {
			return newError(ErrInvalidConfig, opOnion, fmt.Sprintf("virtual port %d out of range", virt), nil)
		}
		if tgt <= 0 || tgt > 65535 {
			return newError(ErrInvalidConfig, opOnion, fmt.Sprintf("target port %d out of range", tgt), nil)
		}
	}
	for _, auth := range cfg.clientAuth {
		if auth.clientName == "" {
			return newError(ErrInvalidConfig, opOnion, "ClientAuth client name is empty", nil)
		}
		if auth.key == "" {
			return newError(ErrInvalidConfig, opOnion, "ClientAuth key is empty", nil)
		}
	}
	return nil
}

// HiddenServiceStatus describes one entry of an owning controller's
// currently active onion services.
type HiddenServiceStatus struct {
	ServiceID string
	Ports     []string
}

// GetHiddenServiceStatus retrieves the set of onion services owned by this
// control connection via GETINFO onions/current.
func GetHiddenServiceStatus(ctx context.Context, engine *Engine) ([]HiddenServiceStatus, error) {
	lines, err := engine.QueueCommand(ctx, "GETINFO onions/current")
	if err != nil {
		// Tor errors when no services exist; treat that as an empty set.
		return []HiddenServiceStatus{}, nil //nolint:nilerr // expected when no services exist
	}

	var services []HiddenServiceStatus
	inBody := false
	for _, line := range lines {
		if strings.HasPrefix(line, "onions/current=") {
			ids := strings.TrimPrefix(line, "onions/current=")
			// An empty value introduces a multiline body: one ID per line.
			inBody = ids == ""
			for _, id := range strings.Split(ids, "\n") {
				id = strings.TrimSpace(id)
				if id != "" {
					services = append(services, HiddenServiceStatus{ServiceID: id})
				}
			}
		} else if id := strings.TrimSpace(line); inBody && id != "" {
			services = append(services, HiddenServiceStatus{ServiceID: id})
		}
	}
	return services, nil
}

// LoadPrivateKey reads a private key from a file for use with
// WithHiddenServicePrivateKey.
func LoadPrivateKey(path string) (string, error) {
	// #nosec G304 -- path is caller-provided and expected to be trusted.
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", newError(ErrIO, opOnion, "failed to read private key", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WithHiddenServicePrivateKeyFile loads a private key from a file and uses it.
func WithHiddenServicePrivateKeyFile(path string) HiddenServiceOption {
	return func(cfg *HiddenServiceConfig) {
		key, err := LoadPrivateKey(path)
		if err == nil && key != "" {
			cfg.privateKey = key
		}
	}
}

// buildAddOnionCommand constructs the ADD_ONION command string from the
// configuration: "ADD_ONION KeyType:Key Port=virt,target [ClientAuth=name:key]".
func buildAddOnionCommand(cfg HiddenServiceConfig) string {
	key := cfg.KeyType()
	if cfg.PrivateKey() == "" {
		key = "NEW:" + key
	} else {
		key = key + ":" + cfg.PrivateKey()
	}
	ports := cfg.Ports()
	auths := cfg.ClientAuth()
	parts := make([]string, 0, 2+len(ports)+len(auths))
	parts = append(parts, "ADD_ONION", key)

	virts := make([]int, 0, len(ports))
	for virt := range ports {
		virts = append(virts, virt)
	}
	sort.Ints(virts)
	for _, virt := range virts {
		target := ports[virt]
		parts = append(parts, fmt.Sprintf("Port=%d,127.0.0.1:%d", virt, target))
	}

	for _, auth := range auths {
		parts = append(parts, fmt.Sprintf("ClientAuth=%s:%s", auth.ClientName(), auth.Key()))
	}

	return strings.Join(parts, " ")
}
