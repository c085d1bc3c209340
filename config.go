package tornago

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// opConfig labels errors raised by the Configuration Model.
const opConfig = "Config"

// schemaEntry is one key's entry from GETINFO config/names: its canonical
// (wire) case and its declared type tag.
type schemaEntry struct {
	canonical string
	tag       configTypeTag
}

// Config is a schema-driven, dirty-tracked mirror of a running Tor daemon's
// configuration. Reads are served from a lazily-populated cache; writes
// accumulate in an "unsaved" overlay until Save commits them with a single
// atomic SETCONF.
type Config struct {
	engine *Engine

	mu      sync.Mutex
	schema  map[string]schemaEntry // keyed by lowercased key name
	cache   map[string]string      // canonical key -> last confirmed raw wire value
	unsaved map[string]string      // canonical key -> pending raw wire value
	saving  bool
}

// NewConfig bootstraps a Config by running GETINFO config/names against
// engine to learn the daemon's key schema. The engine must already be
// AUTHENTICATED.
func NewConfig(ctx context.Context, engine *Engine) (*Config, error) {
	lines, err := engine.QueueCommand(ctx, "GETINFO config/names")
	if err != nil {
		return nil, newError(ErrControlRequestFail, opConfig, "GETINFO config/names failed", err)
	}

	c := &Config{
		engine:  engine,
		schema:  make(map[string]schemaEntry, len(lines)),
		cache:   make(map[string]string),
		unsaved: make(map[string]string),
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name, tag := fields[0], fields[1]
		c.schema[strings.ToLower(name)] = schemaEntry{canonical: name, tag: configTypeTag(tag)}
	}
	return c, nil
}

// lookup resolves key case-insensitively against the schema, returning its
// canonical wire-case name and type tag.
func (c *Config) lookup(key string) (schemaEntry, error) {
	entry, ok := c.schema[strings.ToLower(key)]
	if !ok {
		return schemaEntry{}, newError(ErrUnknownKey, opConfig, "unknown configuration key: "+key, nil)
	}
	return entry, nil
}

// Get returns the typed value currently known for key, preferring an
// unsaved write over the last confirmed value, issuing GETCONF on first
// access.
func (c *Config) Get(ctx context.Context, key string) (any, error) {
	entry, err := c.lookup(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	raw, ok := c.unsaved[entry.canonical]
	if !ok {
		raw, ok = c.cache[entry.canonical]
	}
	c.mu.Unlock()

	if !ok {
		fetched, err := c.engine.GetConf(ctx, entry.canonical)
		if err != nil {
			return nil, err
		}
		raw = joinConfValues(entry.tag, fetched[entry.canonical])
		c.mu.Lock()
		c.cache[entry.canonical] = raw
		c.mu.Unlock()
	}

	return parserFor(string(entry.tag)).Parse(raw)
}

// Set stages value for key in the unsaved overlay; it is not sent to the
// daemon until Save is called. value is validated against the key's schema
// type immediately so mistakes surface before the network round trip.
func (c *Config) Set(key string, value any) error {
	entry, err := c.lookup(key)
	if err != nil {
		return err
	}
	p := parserFor(string(entry.tag))
	if !p.Mutable() {
		return newError(ErrValidationError, opConfig, "key is read-only (Dependant): "+entry.canonical, nil)
	}
	raw, err := p.Unparse(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.unsaved[entry.canonical] = raw
	c.mu.Unlock()
	return nil
}

// SetList is a convenience wrapper for Set with a []string value, for
// CommaList/RouterList/LineList keys.
func (c *Config) SetList(key string, values []string) error {
	return c.Set(key, append([]string(nil), values...))
}

// IsDirty reports whether any key has an unsaved write pending.
func (c *Config) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unsaved) > 0
}

// Save atomically commits every staged write in a single SETCONF command.
// The cache is only promoted to reflect the new values after SETCONF
// confirms success: a failed SETCONF leaves both the unsaved overlay and
// the cache exactly as they were, so a retried Save or a subsequent Get
// cannot observe a value the daemon never actually accepted.
//
// Save is not re-entrant: a concurrent call while one is already in flight
// fails immediately with ErrSaveInProgress rather than queuing, since the
// Engine's own command FIFO already serializes the underlying SETCONF.
func (c *Config) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return newError(ErrSaveInProgress, opConfig, "a Save is already in progress", nil)
	}
	if len(c.unsaved) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.saving = true
	pending := make(map[string]string, len(c.unsaved))
	for k, v := range c.unsaved {
		pending[k] = v
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.saving = false
		c.mu.Unlock()
	}()

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]KV, len(keys))
	for i, k := range keys {
		kvs[i] = KV{Key: k, Value: pending[k]}
	}

	if err := c.engine.SetConf(ctx, kvs...); err != nil {
		return newError(ErrControlRequestFail, opConfig, "SETCONF failed", err)
	}

	c.mu.Lock()
	for k, v := range pending {
		c.cache[k] = v
		delete(c.unsaved, k)
	}
	c.mu.Unlock()
	return nil
}

// CreateTorrc renders the confirmed configuration (with any unsaved writes
// applied on top) as torrc-format lines, one "Key Value" pair per line,
// sorted by key for deterministic output.
func (c *Config) CreateTorrc() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(map[string]string, len(c.cache)+len(c.unsaved))
	for k, v := range c.cache {
		merged[k] = v
	}
	for k, v := range c.unsaved {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if merged[k] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", k, merged[k])
	}
	return b.String()
}

// HiddenServicePortMapping is one HiddenServicePort line's virtual/target
// port pair (e.g. "80 127.0.0.1:8080").
type HiddenServicePortMapping struct {
	VirtPort int
	Target   string
}

func (m HiddenServicePortMapping) String() string {
	if m.Target == "" {
		return fmt.Sprintf("%d", m.VirtPort)
	}
	return fmt.Sprintf("%d %s", m.VirtPort, m.Target)
}

// HiddenServiceGroup is one HiddenServiceDir's compound configuration group:
// the ordered run of HiddenServiceDir/HiddenServicePort/HiddenServiceVersion/
// HiddenServiceAuthorizeClient lines that, together, describe a single torrc
// hidden service (control-spec.txt section 2.4; torconfig.py's HiddenService).
// The service boundary is the reappearance of HiddenServiceDir.
type HiddenServiceGroup struct {
	Dir             string
	Ports           []HiddenServicePortMapping
	Version         int
	AuthorizeClient string
}

// Lines renders the group in torrc/SETCONF grouping order.
func (g *HiddenServiceGroup) Lines() []string {
	lines := []string{"HiddenServiceDir " + g.Dir}
	for _, p := range g.Ports {
		lines = append(lines, "HiddenServicePort "+p.String())
	}
	if g.Version > 0 {
		lines = append(lines, fmt.Sprintf("HiddenServiceVersion %d", g.Version))
	}
	if g.AuthorizeClient != "" {
		lines = append(lines, "HiddenServiceAuthorizeClient "+g.AuthorizeClient)
	}
	return lines
}

// Hostname lazily reads the service's .onion address from <Dir>/hostname.
func (g *HiddenServiceGroup) Hostname() (string, error) {
	return g.readServiceFile("hostname")
}

// PrivateKey lazily reads the service's private key from <Dir>/private_key.
func (g *HiddenServiceGroup) PrivateKey() (string, error) {
	return g.readServiceFile("private_key")
}

func (g *HiddenServiceGroup) readServiceFile(name string) (string, error) {
	if g.Dir == "" {
		return "", newError(ErrInvalidConfig, opConfig, "HiddenServiceGroup has no directory", nil)
	}
	// #nosec G304 -- Dir comes from the daemon's own confirmed configuration.
	data, err := os.ReadFile(filepath.Join(filepath.Clean(g.Dir), name))
	if err != nil {
		return "", newError(ErrIO, opConfig, "failed to read "+name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// HiddenServices issues GETCONF for the hidden-service option keys and
// regroups the interleaved response lines into HiddenServiceGroup values, a
// new group starting at each HiddenServiceDir line.
func (c *Config) HiddenServices(ctx context.Context) ([]*HiddenServiceGroup, error) {
	lines, err := c.engine.QueueCommand(ctx, "GETCONF HiddenServiceDir HiddenServicePort HiddenServiceVersion HiddenServiceAuthorizeClient")
	if err != nil {
		return nil, newError(ErrControlRequestFail, opConfig, "GETCONF HiddenService* failed", err)
	}

	var groups []*HiddenServiceGroup
	var current *HiddenServiceGroup
	for _, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "HiddenServiceDir":
			current = &HiddenServiceGroup{Dir: value}
			groups = append(groups, current)
		case "HiddenServicePort":
			if current == nil {
				continue
			}
			virt, target, _ := strings.Cut(value, " ")
			var port int
			if _, err := fmt.Sscanf(virt, "%d", &port); err != nil {
				continue // malformed entries are skipped
			}
			current.Ports = append(current.Ports, HiddenServicePortMapping{VirtPort: port, Target: target})
		case "HiddenServiceVersion":
			if current != nil {
				fmt.Sscanf(value, "%d", &current.Version) //nolint:errcheck
			}
		case "HiddenServiceAuthorizeClient":
			if current != nil {
				current.AuthorizeClient = value
			}
		}
	}
	return groups, nil
}

// SetHiddenServices replaces the full set of hidden services in a single
// SETCONF, preserving group order and the boundary-by-HiddenServiceDir
// convention the daemon expects. Each of Lines()'s entries becomes its own
// "key value" token on the wire, in order and with keys repeating across
// groups, since the daemon distinguishes one HiddenServiceDir's block from
// the next purely by the repeated-key sequence, not by any framing of ours.
func (c *Config) SetHiddenServices(ctx context.Context, groups []*HiddenServiceGroup) error {
	var pairs []KV
	for _, g := range groups {
		for _, line := range g.Lines() {
			key, value, _ := strings.Cut(line, " ")
			pairs = append(pairs, KV{Key: key, Value: value})
		}
	}
	return c.engine.SetConf(ctx, pairs...)
}
