// Package config loads and validates relay configuration from a sectioned
// key=value file ([relay], [hash], [memcache]|[local_storage]).
package config

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"github.com/axrelay/axrelay/internal/storage"
)

// Config holds the full relay configuration after loading and validation.
type Config struct {
	// [relay]
	Server            string        // component server address, host:port
	ComponentJID      string        // the JID this component identifies as
	ComponentPassword string        // shared secret for the component handshake
	StorageTimeout    time.Duration // per-operation timeout for storage/vault calls
	Workers           int           // size of the inbound message worker pool
	LogLevel          string

	// [hash]
	HashSecret  []byte // S_hash: keys alias derivation
	AliasDomain string // D_alias: domain aliases are minted under

	// Exactly one of Memcache / LocalStorage is set; if neither, an
	// unbounded MemoryStore is used with a logged warning.
	Memcache     *storage.MemcacheConfig
	LocalStorage *LocalStorageConfig

	// StoreSecret is S_store, present when either section carries an
	// "encrypt" option. Non-nil turns the chosen backend into a
	// vault.Vault-wrapped, non-enumerable store.
	StoreSecret []byte
}

// LocalStorageConfig configures the supplemented persistent bbolt-backed
// store, fronted by a bounded in-memory S3-FIFO layer of CacheCapacity
// entries.
type LocalStorageConfig struct {
	Path          string
	CacheCapacity int
}

// defaultStorageTimeout bounds every storage/vault operation so a wedged
// backend can't stall relay processing indefinitely.
const defaultStorageTimeout = 2 * time.Second

// defaultCacheCapacity mirrors the teacher's S3-FIFO default, retuned for
// alias-record rather than PII-token cardinality.
const defaultCacheCapacity = 50_000

// knownMemcacheKeys whitelists the behavior knobs spec.md §4.3 names.
// Unrecognized keys under [memcache] are a configuration error rather than
// being silently ignored, so a typo'd option doesn't fail open.
var knownMemcacheKeys = map[string]bool{
	"servers":         true,
	"username":        true,
	"password":        true,
	"distribution":    true,
	"ketama":          true,
	"ketama_weighted": true,
	"ketama_hash":     true,
	"hash":            true,
	"buffer_requests": true,
	"cache_lookups":   true,
	"no_block":        true,
	"tcp_nodelay":     true,
	"cas":             true,
	"verify_keys":     true,
	"connect_timeout": true,
	"receive_timeout": true,
	"send_timeout":    true,
	"num_replicas":    true,
	"remove_failed":   true,
	"max_idle_conns":  true,
	"encrypt":         true,
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg := &Config{
		StorageTimeout: defaultStorageTimeout,
		Workers:        4,
		LogLevel:       "info",
	}

	relay := f.Section("relay")
	cfg.Server = relay.Key("server").MustString("")
	if cfg.Server == "" {
		return nil, fmt.Errorf("config: [relay] server is required")
	}
	if port := relay.Key("port").MustString(""); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("config: [relay] port must be an integer: %w", err)
		}
		cfg.Server = fmt.Sprintf("%s:%s", cfg.Server, port)
	}
	cfg.ComponentJID = relay.Key("jid").MustString("")
	if cfg.ComponentJID == "" {
		return nil, fmt.Errorf("config: [relay] jid is required")
	}
	cfg.ComponentPassword = relay.Key("password").MustString("")
	if cfg.ComponentPassword == "" {
		return nil, fmt.Errorf("config: [relay] password is required")
	}
	cfg.Workers = relay.Key("workers").MustInt(cfg.Workers)
	if v := relay.Key("log_level").MustString(""); v != "" {
		cfg.LogLevel = v
	}
	if ms := relay.Key("storage_timeout_ms").MustInt(0); ms > 0 {
		cfg.StorageTimeout = time.Duration(ms) * time.Millisecond
	}

	hash := f.Section("hash")
	secretB64 := hash.Key("secret").MustString("")
	if secretB64 == "" {
		return nil, fmt.Errorf("config: [hash] secret is required")
	}
	hashSecret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("config: [hash] secret: %w", err)
	}
	cfg.HashSecret = hashSecret
	cfg.AliasDomain = hash.Key("domain").MustString("")
	if cfg.AliasDomain == "" {
		return nil, fmt.Errorf("config: [hash] domain is required")
	}

	hasMemcache := f.HasSection("memcache")
	hasLocal := f.HasSection("local_storage")
	if hasMemcache && hasLocal {
		return nil, fmt.Errorf("config: only one of [memcache]/[local_storage] may be present")
	}

	if hasMemcache {
		mc, storeSecret, err := loadMemcache(f.Section("memcache"))
		if err != nil {
			return nil, err
		}
		cfg.Memcache = mc
		cfg.StoreSecret = storeSecret
	}

	if hasLocal {
		ls := f.Section("local_storage")
		path := ls.Key("path").MustString("")
		if path == "" {
			return nil, fmt.Errorf("config: [local_storage] path is required")
		}
		cfg.LocalStorage = &LocalStorageConfig{
			Path:          path,
			CacheCapacity: ls.Key("cache_capacity").MustInt(defaultCacheCapacity),
		}
		storeSecret, err := decodeEncryptKey(ls.Key("encrypt").MustString(""))
		if err != nil {
			return nil, fmt.Errorf("config: [local_storage] encrypt: %w", err)
		}
		cfg.StoreSecret = storeSecret
	}

	return cfg, nil
}

func decodeEncryptKey(v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(v)
}

func loadMemcache(sec *ini.Section) (*storage.MemcacheConfig, []byte, error) {
	for _, key := range sec.Keys() {
		if !knownMemcacheKeys[key.Name()] {
			return nil, nil, fmt.Errorf("config: [memcache] unknown option %q", key.Name())
		}
	}

	servers := sec.Key("servers").Strings(",")
	if len(servers) == 0 {
		return nil, nil, fmt.Errorf("config: [memcache] servers is required")
	}

	dist := sec.Key("distribution").MustString("")
	if dist == "" && sec.Key("ketama").MustBool(false) {
		dist = "ketama"
	}

	storeSecret, err := decodeEncryptKey(sec.Key("encrypt").MustString(""))
	if err != nil {
		return nil, nil, fmt.Errorf("config: [memcache] encrypt: %w", err)
	}

	return &storage.MemcacheConfig{
		Servers:              servers,
		Username:             sec.Key("username").MustString(""),
		Password:             sec.Key("password").MustString(""),
		Distribution:         dist,
		MaxIdleConns:         sec.Key("max_idle_conns").MustInt(2),
		ConnectTimeoutMillis: sec.Key("connect_timeout").MustInt(500),
		ReceiveTimeoutMillis: sec.Key("receive_timeout").MustInt(500),
		SendTimeoutMillis:    sec.Key("send_timeout").MustInt(500),
	}, storeSecret, nil
}
