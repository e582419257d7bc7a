package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/adapters/banstore"
	sqliteadapter "github.com/KipK/ha-entity-explorer/internal/adapters/db/sqlite"
	"github.com/KipK/ha-entity-explorer/internal/adapters/homeassistant"
	httpadapter "github.com/KipK/ha-entity-explorer/internal/adapters/http"
	"github.com/KipK/ha-entity-explorer/internal/adapters/observability"
	rpcadapter "github.com/KipK/ha-entity-explorer/internal/adapters/rpcjson"
	"github.com/KipK/ha-entity-explorer/internal/application"
	"github.com/KipK/ha-entity-explorer/internal/config"
	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/KipK/ha-entity-explorer/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "ha-entity-explorer",
		Usage: "Browse and export Home Assistant entity history",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.yaml", Usage: "path to the YAML config file", Sources: cli.EnvVars("HAE_CONFIG")},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level from the config file", Sources: cli.EnvVars("HAE_LOG_LEVEL")},
		},
		Commands: []*cli.Command{
			serverCommand(),
			configCommand(),
			usersCommand(),
			authCommand(),
			entitiesCommand(),
			historyCommand(),
			rangeCommand(),
			bansCommand(),
			cacheCommand(),
			auditCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadServerConfig(c *cli.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	log := logging.New(level, os.Stderr)
	for _, warning := range cfg.Warnings {
		log.Warn(warning)
	}
	return cfg, log, nil
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run the HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address, defaults to app.host:app.port", Sources: cli.EnvVars("HAE_ADDR")},
			&cli.StringFlag{Name: "rpc-socket", Usage: "JSON-RPC unix socket path, defaults to admin_socket"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path, defaults to database.path", Sources: cli.EnvVars("HAE_DB_PATH")},
			&cli.BoolFlag{Name: "secure-cookies", Usage: "mark the session cookie Secure"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, log, err := loadServerConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("db-path") {
				cfg.Database.Path = c.String("db-path")
			}
			if c.IsSet("rpc-socket") {
				cfg.AdminSocket = c.String("rpc-socket")
			}
			addr := cfg.Addr()
			if c.IsSet("addr") {
				addr = c.String("addr")
			}
			return runServer(ctx, cfg, log, addr, c.Bool("secure-cookies"))
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, log *logrus.Logger, addr string, secureCookies bool) error {
	db, err := sqliteadapter.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	version, err := sqliteadapter.RunMigrations(ctx, db, log)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"path": cfg.Database.Path, "version": version}).Info("database ready")

	bans, closeBans, err := openBanStore(cfg.BanStore, db)
	if err != nil {
		return err
	}
	defer func() { _ = closeBans() }()

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	client := homeassistant.New(cfg.HomeAssistant.URL, cfg.HomeAssistant.APIToken,
		homeassistant.WithObserver(metrics),
		homeassistant.WithLogger(log.WithField("component", "homeassistant")),
	)
	cache := application.NewStateCache(client,
		application.WithCacheObserver(metrics),
		application.WithCacheLogger(log),
	)
	guard := application.NewLoginGuard(bans, cfg.SafeIPs, log)
	guard.SetObserver(metrics)

	auth := application.NewAuthService(sqliteadapter.NewAuthRepository(db), guard, log)
	if cfg.BootstrapAdmin.Password != "" {
		if err := auth.BootstrapAdmin(ctx, cfg.BootstrapAdmin.Username, cfg.BootstrapAdmin.Password); err != nil {
			return err
		}
	}
	if enabled, err := auth.AuthEnabled(ctx); err != nil {
		return err
	} else if !enabled {
		log.Warn("no users configured, authentication is disabled")
	}

	explorer := application.NewExplorer(
		domain.NewAccessPolicy(cfg.Whitelist, cfg.Blacklist),
		cache,
		client,
		application.NewRangeFinder(client, log),
		application.ExplorerConfig{
			Language:           cfg.App.Language,
			DefaultHistoryDays: cfg.App.DefaultHistoryDays,
			RemoteURL:          cfg.HomeAssistant.URL,
		},
		log,
	)

	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		log.WithError(err).WithField("url", cfg.HomeAssistant.URL).Warn("home assistant connection test failed")
	} else {
		log.WithField("url", cfg.HomeAssistant.URL).Info("connected to home assistant")
	}
	cancelPing()

	accessLog := log.WriterLevel(logrus.InfoLevel)
	defer func() { _ = accessLog.Close() }()

	router := httpadapter.NewRouter(httpadapter.Options{
		Explorer:      explorer,
		Auth:          auth,
		Log:           log,
		Metrics:       metrics.Handler(),
		AccessLog:     accessLog,
		TrustProxy:    cfg.TrustProxy,
		SecureCookies: secureCookies,
	})
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	rpcSrv, err := rpcadapter.Start(cfg.AdminSocket, explorer, auth, log)
	if err != nil {
		return err
	}
	defer func() { _ = rpcSrv.Close() }()
	log.WithField("socket", cfg.AdminSocket).Info("json-rpc listening")

	if n, err := auth.PurgeExpiredSessions(ctx); err != nil {
		log.WithError(err).Warn("purge expired sessions")
	} else if n > 0 {
		log.WithField("removed", n).Info("expired sessions purged")
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openBanStore(cfg config.BanStoreConfig, db *gorm.DB) (domain.BanStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "file":
		return banstore.NewFileStore(cfg.File), noop, nil
	case "etcd":
		store, err := banstore.NewEtcdStore(cfg.EtcdEndpoints, cfg.EtcdPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return sqliteadapter.NewBanStore(db), noop, nil
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Load the config file and report problems",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output the effective config as JSON, token redacted"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					for _, warning := range cfg.Warnings {
						fmt.Fprintln(os.Stderr, "warning:", warning)
					}
					redacted := *cfg
					redacted.HomeAssistant.APIToken = "***"
					redacted.BootstrapAdmin.Password = ""
					if c.Bool("json") {
						return printJSON(redacted)
					}
					printKV([][2]string{
						{"home_assistant.url", cfg.HomeAssistant.URL},
						{"listen", cfg.Addr()},
						{"language", cfg.App.Language},
						{"default_history_days", fmt.Sprintf("%d", cfg.App.DefaultHistoryDays)},
						{"database.path", cfg.Database.Path},
						{"ban_store.backend", cfg.BanStore.Backend},
						{"admin_socket", cfg.AdminSocket},
						{"whitelist", joinOrDash(cfg.Whitelist)},
						{"blacklist", joinOrDash(cfg.Blacklist)},
						{"safe_ips", joinOrDash(cfg.SafeIPs)},
					})
					return nil
				},
			},
		},
	}
}

// openAuthService opens the local database for the offline user commands.
func openAuthService(ctx context.Context, c *cli.Command) (*application.AuthService, error) {
	cfg, log, err := loadServerConfig(c)
	if err != nil {
		return nil, err
	}
	db, err := sqliteadapter.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if _, err := sqliteadapter.RunMigrations(ctx, db, nil); err != nil {
		return nil, err
	}
	guard := application.NewLoginGuard(sqliteadapter.NewBanStore(db), cfg.SafeIPs, log)
	return application.NewAuthService(sqliteadapter.NewAuthRepository(db), guard, log), nil
}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Manage operator accounts in the local database",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List users",
				Flags: []cli.Flag{&cli.StringFlag{Name: "q"}, &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					auth, err := openAuthService(ctx, c)
					if err != nil {
						return err
					}
					out, err := auth.ListUsers(ctx, c.String("q"), 0)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("HAE_PASSWORD")},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					auth, err := openAuthService(ctx, c)
					if err != nil {
						return err
					}
					out, err := auth.CreateUser(ctx, c.String("username"), c.String("password"))
					if err != nil {
						return err
					}
					auth.WriteAudit(ctx, &out.ID, "admin.user.create", "", "cli")
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers([]domain.User{out})
					return nil
				},
			},
			{
				Name:  "passwd",
				Usage: "Set a user's password",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("HAE_PASSWORD")},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					auth, err := openAuthService(ctx, c)
					if err != nil {
						return err
					}
					if err := auth.SetPassword(ctx, c.String("username"), c.String("password")); err != nil {
						return err
					}
					auth.WriteAudit(ctx, nil, "admin.user.passwd", "", "username="+c.String("username"))
					fmt.Printf("password updated for %s\n", c.String("username"))
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a user and its sessions",
				Flags: []cli.Flag{&cli.StringFlag{Name: "username", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					auth, err := openAuthService(ctx, c)
					if err != nil {
						return err
					}
					if err := auth.DeleteUser(ctx, c.String("username")); err != nil {
						return err
					}
					auth.WriteAudit(ctx, nil, "admin.user.delete", "", "username="+c.String("username"))
					fmt.Printf("deleted %s\n", c.String("username"))
					return nil
				},
			},
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate the CLI against a running server",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login and store the session token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Value: "http", Usage: "http or uds"},
					&cli.StringFlag{Name: "server", Value: defaultServer},
					&cli.StringFlag{Name: "socket", Value: defaultSocket},
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("HAE_PASSWORD")},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}
					var out loginResult
					if err := doLogin(ctx, cfg, c.String("username"), c.String("password"), &out); err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					if out.Auth == "disabled" {
						fmt.Println("authentication is disabled on the server")
						return nil
					}
					fmt.Printf("logged in as %s\n", out.Username)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show the authenticated user",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out map[string]any
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					if out["auth"] == "disabled" {
						fmt.Println("authentication is disabled on the server")
						return nil
					}
					printKV([][2]string{{"id", fmt.Sprint(out["id"])}, {"username", fmt.Sprint(out["username"])}})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Revoke the session and clear the local token",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					_ = doLogout(ctx, cfg)
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func entitiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "entities",
		Usage: "List the entities the server exposes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "q", Usage: "substring filter on id or friendly name"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var out []domain.EntitySummary
			if err := doEntitiesList(ctx, cfg, c.String("q"), &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printEntities(out)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the history of one entity",
		ArgsUsage: "<entity_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "window start, ISO-8601"},
			&cli.StringFlag{Name: "end", Usage: "window end, ISO-8601"},
			&cli.StringFlag{Name: "key", Usage: "dot path of an attribute to chart instead of the state"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			entityID := c.Args().First()
			if entityID == "" {
				return errors.New("entity_id argument is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var out historyPayload
			if err := doHistory(ctx, cfg, entityID, c.String("key"), c.String("start"), c.String("end"), &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printHistory(out)
			return nil
		},
	}
}

func rangeCommand() *cli.Command {
	return &cli.Command{
		Name:      "range",
		Usage:     "Estimate how far back the history of an entity goes",
		ArgsUsage: "<entity_id>",
		Flags:     []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
		Action: func(ctx context.Context, c *cli.Command) error {
			entityID := c.Args().First()
			if entityID == "" {
				return errors.New("entity_id argument is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var out domain.AvailableRange
			if err := doRange(ctx, cfg, entityID, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printRange(out)
			return nil
		},
	}
}

func bansCommand() *cli.Command {
	return &cli.Command{
		Name:  "bans",
		Usage: "Inspect and lift login bans on a running server",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List banned addresses",
				Flags: []cli.Flag{socketFlag(), &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out struct {
						Bans []string `json:"bans"`
					}
					if err := adminCall(ctx, c, "bans.list", nil, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printList("ADDRESS", out.Bans)
					return nil
				},
			},
			{
				Name:      "clear",
				Usage:     "Lift bans on the given addresses, or on all of them",
				ArgsUsage: "[address...]",
				Flags:     []cli.Flag{socketFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out struct {
						Removed []string `json:"removed"`
					}
					if err := adminCall(ctx, c, "bans.clear", map[string]any{"addresses": c.Args().Slice()}, &out); err != nil {
						return err
					}
					fmt.Printf("lifted %d ban(s)\n", len(out.Removed))
					return nil
				},
			},
			{
				Name:  "attempts",
				Usage: "Show failed login counters held in memory",
				Flags: []cli.Flag{socketFlag(), &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out []rpcadapter.AttemptCount
					if err := adminCall(ctx, c, "guard.attempts", nil, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAttempts(out)
					return nil
				},
			},
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "State cache commands",
		Commands: []*cli.Command{
			{
				Name:  "refresh",
				Usage: "Force a state snapshot refresh",
				Flags: []cli.Flag{socketFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out struct {
						States int `json:"states"`
					}
					if err := adminCall(ctx, c, "cache.refresh", nil, &out); err != nil {
						return err
					}
					fmt.Printf("cached %d states\n", out.States)
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List audit logs",
				Flags: []cli.Flag{
					socketFlag(),
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out []domain.AuditRecord
					if err := adminCall(ctx, c, "audit.list", map[string]any{"limit": c.Int("limit")}, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditRecords(out)
					return nil
				},
			},
		},
	}
}

func socketFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "socket", Usage: "admin socket, defaults to the CLI config", Sources: cli.EnvVars("HAE_SOCKET")}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
