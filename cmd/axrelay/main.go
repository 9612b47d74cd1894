// Command axrelay is the XMPP anonymizing relay component.
//
// It registers as a jabber:component:accept component, rewrites the to/from
// addresses on message stanzas with deterministic keyed-hash aliases, and
// answers /whoami to the alias of the asking JID.
//
// Usage:
//
//	axrelay run -c /usr/local/etc/axrelay.conf
//	axrelay hash alice@example.com
//	axrelay hash -l axxxx...@axr.example.com/a
//	axrelay secret
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli"

	"github.com/axrelay/axrelay/internal/address"
	"github.com/axrelay/axrelay/internal/alias"
	"github.com/axrelay/axrelay/internal/config"
	"github.com/axrelay/axrelay/internal/logger"
	"github.com/axrelay/axrelay/internal/metrics"
	"github.com/axrelay/axrelay/internal/relay"
	"github.com/axrelay/axrelay/internal/secretgen"
	"github.com/axrelay/axrelay/internal/storage"
	"github.com/axrelay/axrelay/internal/vault"
	"github.com/axrelay/axrelay/internal/xmppcomponent"
)

const defaultConfigPath = "/usr/local/etc/axrelay.conf"

func main() {
	app := cli.NewApp()
	app.Name = "axrelay"
	app.Usage = "XMPP anonymizing relay"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: defaultConfigPath, Usage: "path to relay config file"},
		cli.BoolFlag{Name: "quiet, q", Usage: "suppress non-error log output"},
		cli.BoolFlag{Name: "debug, d", Usage: "enable debug-level log output"},
		cli.StringFlag{Name: "log-file", Usage: "write logs to this file instead of stderr"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "connect to the component router and start relaying",
			Action: runCommand,
		},
		{
			Name:      "hash",
			Usage:     "derive the alias for a real address, or reverse-resolve an alias",
			ArgsUsage: "<address>...",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "lookup, l", Usage: "treat arguments as aliases and resolve the real address"},
				cli.BoolFlag{Name: "store, S", Usage: "record derived aliases in the configured store (implied by --lookup)"},
			},
			Action: hashCommand,
		},
		{
			Name:   "secret",
			Usage:  "print a fresh base64-encoded 32-byte secret suitable for [hash] or encrypt",
			Action: secretCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "axrelay:", err)
		os.Exit(1)
	}
}

func openLogger(c *cli.Context, module string) (*logger.Logger, func(), error) {
	level := "info"
	if c.GlobalBool("quiet") {
		level = "error"
	}
	if c.GlobalBool("debug") {
		level = "debug"
	}

	if path := c.GlobalString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return logger.NewTo(f, module, level), func() { f.Close() }, nil
	}
	return logger.New(module, level), func() {}, nil
}

// openStore builds the configured backend and, when cfg.StoreSecret is
// set, wraps it in the non-enumerable vault. A nil *config.Config.Memcache
// and nil LocalStorage falls back to an unbounded MemoryStore, logged as a
// warning since it loses every alias mapping on restart.
func openStore(cfg *config.Config, log *logger.Logger) (storage.Store, func() error, error) {
	closeFn := func() error { return nil }

	var backing storage.Store
	switch {
	case cfg.Memcache != nil:
		mc, err := storage.NewMemcacheStore(*cfg.Memcache)
		if err != nil {
			return nil, nil, fmt.Errorf("memcache store: %w", err)
		}
		backing = mc
	case cfg.LocalStorage != nil:
		bolt, err := storage.NewBoltStore(cfg.LocalStorage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("local storage: %w", err)
		}
		closeFn = bolt.Close
		backing = storage.NewBoundedMemoryStore(bolt, cfg.LocalStorage.CacheCapacity)
	default:
		log.Warn("storage", "no [memcache] or [local_storage] configured, using an unbounded in-memory store; aliases will not survive a restart")
		backing = storage.NewMemoryStore()
	}

	if cfg.StoreSecret == nil {
		return backing, closeFn, nil
	}
	return vault.New(backing, cfg.StoreSecret), closeFn, nil
}

func loadConfigOrFail(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfigOrFail(c)
	if err != nil {
		return err
	}

	log, closeLog, err := openLogger(c, "RELAY")
	if err != nil {
		return err
	}
	defer closeLog()
	if cfg.LogLevel != "" && !c.GlobalBool("quiet") && !c.GlobalBool("debug") {
		log.SetLevel(cfg.LogLevel)
	}

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Errorf("shutdown", "closing storage: %v", err)
		}
	}()

	aliasSvc := alias.New(cfg.HashSecret, cfg.AliasDomain, store)
	m := metrics.New()

	transport := xmppcomponent.New(xmppcomponent.Config{
		Server:   cfg.Server,
		JID:      cfg.ComponentJID,
		Password: cfg.ComponentPassword,
	}, logger.New("XMPP", cfg.LogLevel))

	bot := address.ParseAddress(cfg.ComponentJID)
	engine := relay.New(aliasSvc, transport, bot, m, log)

	work := make(chan relay.Stanza, cfg.Workers*4)
	var pool sync.WaitGroup
	pool.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer pool.Done()
			for s := range work {
				handleCtx, cancel := context.WithTimeout(context.Background(), cfg.StorageTimeout)
				engine.HandleMessage(handleCtx, s)
				cancel()
			}
		}()
	}
	transport.SubscribeMessage(func(s relay.Stanza) {
		work <- s
	})

	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		close(work)
		return fmt.Errorf("connect: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown", "received shutdown signal")
		cancel()
	}()

	log.Info("run", "relay started, serving "+cfg.ComponentJID)
	runErr := transport.Run(ctx)
	close(work)
	pool.Wait()
	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}

func hashCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("hash: at least one address is required")
	}

	cfg, err := loadConfigOrFail(c)
	if err != nil {
		return err
	}
	log, closeLog, err := openLogger(c, "HASH")
	if err != nil {
		return err
	}
	defer closeLog()

	lookup := c.Bool("lookup")
	persist := c.Bool("store") || lookup

	var store storage.Store = storage.NewNullStore()
	if persist {
		opened, closeStore, err := openStore(cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()
		store = opened
	}

	aliasSvc := alias.New(cfg.HashSecret, cfg.AliasDomain, store)
	ctx := context.Background()

	for _, arg := range c.Args() {
		addr := address.ParseAddress(arg)
		if lookup {
			real, ok, err := aliasSvc.RealOf(ctx, addr)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", arg, err)
			}
			if !ok {
				fmt.Printf("%s\tunknown\n", arg)
				continue
			}
			fmt.Printf("%s\t%s\n", arg, real.Full())
			continue
		}
		aliased, err := aliasSvc.AliasOf(ctx, addr)
		if err != nil {
			return fmt.Errorf("hash %s: %w", arg, err)
		}
		fmt.Printf("%s\t%s\n", arg, aliased.Full())
	}
	return nil
}

func secretCommand(c *cli.Context) error {
	s, err := secretgen.New()
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

func printBanner(cfg *config.Config) {
	backend := "memory (unbounded, non-persistent)"
	switch {
	case cfg.Memcache != nil:
		backend = fmt.Sprintf("memcache (%d servers)", len(cfg.Memcache.Servers))
	case cfg.LocalStorage != nil:
		backend = "local bbolt store at " + cfg.LocalStorage.Path
	}
	encrypted := cfg.StoreSecret != nil

	fmt.Printf(`
axrelay — XMPP anonymizing relay
  component JID : %s
  server        : %s
  alias domain  : %s
  storage       : %s
  non-enumerable: %v
  workers       : %d
`, cfg.ComponentJID, cfg.Server, cfg.AliasDomain, backend, encrypted, cfg.Workers)
}
