package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/hearthchat/hearth/internal/aggregates"
	"github.com/hearthchat/hearth/internal/config"
	"github.com/hearthchat/hearth/internal/entities"
	"github.com/hearthchat/hearth/internal/manager"
	"github.com/hearthchat/hearth/internal/ops"
	"github.com/hearthchat/hearth/internal/profile"
	"github.com/hearthchat/hearth/internal/relay"
	"github.com/hearthchat/hearth/internal/store"
	"github.com/hearthchat/hearth/internal/vault"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			handleInit()
			return
		case "import":
			handleImport()
			return
		}
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("hearth %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("hearth - client-side state reconciliation for decentralized chat")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  hearth init                     Generate example configuration")
		fmt.Println("  hearth import <file>            Import events from a JSONL file")
		fmt.Println("  hearth --version                Show version information")
		fmt.Println("  hearth --config <path>          Start with configuration file")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleInit() {
	path := "hearth.yaml"
	if len(os.Args) > 2 {
		path = os.Args[2]
	}
	if err := config.WriteExample(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote example configuration to %s\n", path)
}

// handleImport loads wire-format events from a JSONL file into the local
// event cache, tolerating individually malformed lines.
func handleImport() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: hearth import <file> [--db <path>]")
		os.Exit(1)
	}
	path := os.Args[2]

	dbPath := expandHome(config.Default().Storage.Path)
	if len(os.Args) > 4 && os.Args[3] == "--db" {
		dbPath = os.Args[4]
	}

	cache, err := store.NewSQLite(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	imported, skipped := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 512*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := entities.DecodeEvent(line)
		if err != nil {
			skipped++
			continue
		}
		if err := cache.Save(ctx, event); err != nil {
			skipped++
			continue
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d events (%d skipped)\n", imported, skipped)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := ops.NewLogger(&cfg.Logging)
	log.Info("starting hearth", "version", version)

	// Secure vault; degrade to no-persistence when unavailable.
	var v vault.Vault
	fileVault, err := vault.NewFileVault(expandHome(cfg.Identity.VaultDir), os.Getenv(cfg.Identity.PassphraseEnv))
	if err != nil {
		log.Warn("vault unavailable, identity will not persist", "error", err)
		v = vault.NullVault{}
	} else {
		v = fileVault
	}

	profileCache, err := profile.NewCache(expandHome(cfg.Identity.ProfileDir))
	if err != nil {
		return fmt.Errorf("failed to open profile cache: %w", err)
	}

	eventCache, err := store.NewSQLite(expandHome(cfg.Storage.Path))
	if err != nil {
		return fmt.Errorf("failed to open event cache: %w", err)
	}
	defer eventCache.Close()

	pool := relay.NewPool(ctx, &cfg.Relays, eventCache, log)
	defer pool.Close()

	channelMgr := manager.NewChannelManager(pool, log)
	privMsgMgr := manager.NewPrivateMessageManager(pool, log)
	contactMgr := manager.NewContactManager(pool, log)

	root := aggregates.NewRoot(v, profileCache,
		aggregates.Defaults{
			Channels: cfg.Channels.Defaults,
			Relays:   cfg.Relays.Seeds,
		},
		cfg.Sync.PrivMessageLimit,
		time.Duration(cfg.Sync.NotifyDebounceMs)*time.Millisecond,
		log)
	root.Channels.CreateDefaults(cfg.Channels.Defaults)

	if err := root.Session.Bootstrap(ctx, pool); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	if root.Session.IsLoggedIn() {
		startSync(ctx, cfg, root, pool, channelMgr, privMsgMgr, contactMgr, log)
	} else {
		log.Info("no persisted identity, waiting for signup or login")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())
	return nil
}

// startSync brings the state tree up to date and keeps it there: a
// historical fetch per aggregate, then live subscriptions feeding the
// same merge paths.
func startSync(ctx context.Context, cfg *config.Config, root *aggregates.Root, pool *relay.Pool, channelMgr *manager.ChannelManager, privMsgMgr *manager.PrivateMessageManager, contactMgr *manager.ContactManager, log *ops.Logger) {
	session := root.Session
	pubkey := session.Pubkey()

	if err := session.FetchContacts(ctx, contactMgr); err != nil {
		log.Warn("contact fetch failed", "error", err)
	}
	if _, err := session.FetchPrivMessages(ctx, privMsgMgr, nil); err != nil {
		log.Warn("private message fetch failed", "error", err)
	}
	if err := session.FetchInvites(ctx, pool, privMsgMgr, pubkey); err != nil {
		log.Warn("invite fetch failed", "error", err)
	}

	channelMgr.JoinAll(session.Channels())
	for _, channel := range root.Channels.All() {
		if err := channel.FetchMeta(ctx, channelMgr); err != nil {
			log.Warn("channel metadata fetch failed", "channel", channel.ID(), "error", err)
		}
		if err := channel.FetchMessages(ctx, channelMgr, cfg.Sync.ChannelWindowHours); err != nil {
			log.Warn("channel fetch failed", "channel", channel.ID(), "error", err)
		}
	}

	// Live channel messages.
	since := nostr.Now()
	channelIDs := session.Channels()
	if len(channelIDs) > 0 {
		pool.Sub(ctx, nostr.Filters{{
			Kinds: []int{entities.KindChannelMessage},
			Tags:  nostr.TagMap{"e": channelIDs},
			Since: &since,
		}}, func(event *nostr.Event) {
			channel := root.Channels.Get(entities.ChannelTag(event))
			if channel == nil {
				return
			}
			channel.AddMessage(event)
			channel.UpdateLastMessage()
		})
	}

	// Live private messages, decrypted against the contact set.
	pool.Sub(ctx, nostr.Filters{{
		Kinds: []int{entities.KindEncryptedDM},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Since: &since,
	}}, func(event *nostr.Event) {
		decrypted, err := privMsgMgr.Decrypt(ctx, event, []string{event.PubKey})
		if err != nil {
			return
		}
		session.AddPrivMessage(decrypted)
	})

	log.Info("sync running", "channels", len(channelIDs), "pubkey", pubkey)
}
