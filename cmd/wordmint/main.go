package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"wordmint/internal/challenge"
	"wordmint/internal/config"
	"wordmint/internal/events"
	"wordmint/internal/notify"
	"wordmint/internal/platform"
	"wordmint/internal/server"
	"wordmint/internal/store"
	"wordmint/internal/trigger"
	"wordmint/internal/words"
)

var rootCmd = &cobra.Command{
	Use:   "wordmint",
	Short: "Wordmint daily challenge backend",
	Long: `Wordmint mints one word-guessing challenge per day and reminds opted-in
players at 9am in their own timezone.

- challenge create: mint today's challenge (idempotent; safe to retry)
- notify sweep:    deliver every reminder group that is due
- notify preview:  dry-run the timezone grouping without sending anything
- serve:           run the operational HTTP API plus the background sweep`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("WORDMINT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "wordmint.yml", "config file path")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(challengeCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(optinCmd())
	rootCmd.AddCommand(wordlistCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads the YAML file named by --config, falling back to defaults
// when the default path does not exist, then applies WORDMINT_* environment
// overrides for the secrets that should not live in the file.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	var cfg *config.Config
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if rootCmd.PersistentFlags().Changed("config") {
			return nil, fmt.Errorf("config %s not found", path)
		}
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := viper.GetString("redis-addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("amqp-url"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := viper.GetString("platform-token"); v != "" {
		cfg.Platform.Token = v
	}
	return cfg, nil
}

// app bundles the wired components for one command invocation.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *store.Store
	words     *words.Store
	creator   *challenge.Creator
	scheduler *notify.Scheduler
	deliverer *notify.Deliverer
	sweeper   *notify.Sweeper
	amqp      *trigger.AMQP
}

func (a *app) close() {
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	_ = a.log.Sync()
}

// newApp wires the full component graph. One-shot commands get the AMQP
// trigger when a broker is configured and otherwise a no-op one; the sweep
// covers groups whose precise trigger was never armed.
func newApp(ctx context.Context, preciseLocal bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	st, err := store.New(ctx, store.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	wordStore, err := words.Open(cfg.Words.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token)
	audit := events.Writer{Store: st}

	deliverer := &notify.Deliverer{
		Store:     st,
		Pusher:    client,
		Events:    audit,
		BatchSize: cfg.Notify.BatchSize,
		Log:       log,
	}

	var trig trigger.Trigger
	a := &app{cfg: cfg, log: log, store: st, words: wordStore, deliverer: deliverer}
	switch {
	case cfg.AMQP.URL != "":
		amqpTrig, err := trigger.NewAMQP(cfg.AMQP.URL, log)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		a.amqp = amqpTrig
		trig = amqpTrig
	case preciseLocal:
		trig = trigger.NewLocal(ctx, deliverer.HandleTrigger, log)
	default:
		trig = trigger.Nop{}
	}

	a.scheduler = &notify.Scheduler{
		Store: st,
		Resolver: &notify.Resolver{
			Dir:          client,
			FallbackZone: cfg.Notify.FallbackZone,
			Limit:        cfg.Notify.ResolveLimit,
			Log:          log,
		},
		Trigger:      trig,
		Events:       audit,
		TargetHour:   cfg.Notify.TargetHour,
		TargetMinute: cfg.Notify.TargetMinute,
		Log:          log,
	}
	a.sweeper = &notify.Sweeper{
		Store:     st,
		Deliverer: deliverer,
		Interval:  cfg.SweepInterval(),
		Limit:     cfg.Notify.SweepLimit,
		Log:       log,
	}
	a.creator = &challenge.Creator{
		Store:      st,
		Poster:     client,
		Words:      wordStore,
		Notifier:   a.scheduler,
		Events:     audit,
		ReserveTTL: cfg.ReserveTTL(),
		Log:        log,
	}
	return a, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func challengeCmd() *cobra.Command {
	c := &cobra.Command{Use: "challenge", Short: "Manage daily challenges"}
	c.AddCommand(challengeCreateCmd())
	c.AddCommand(challengeShowCmd())
	return c
}

func challengeCreateCmd() *cobra.Command {
	var force, ignoreDailyWindow bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create today's challenge if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.creator.EnsureDaily(ctx, challenge.Overrides{
					Force:             force,
					IgnoreDailyWindow: ignoreDailyWindow,
					Actor:             "cli",
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the daily window check")
	cmd.Flags().BoolVar(&ignoreDailyWindow, "ignore-daily-window", false, "mint another challenge for a day that already has one")
	return cmd
}

func challengeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <number>",
		Short: "Show a challenge by number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var number int64
			if _, err := fmt.Sscanf(args[0], "%d", &number); err != nil {
				return fmt.Errorf("challenge number must be an integer: %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				ch, err := a.store.GetChallenge(ctx, number)
				if err != nil {
					return err
				}
				return printJSONOrTable(ch)
			})
		},
	}
	return cmd
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Operate the reminder pipeline"}
	n.AddCommand(notifySweepCmd())
	n.AddCommand(notifySendCmd())
	n.AddCommand(notifyPreviewCmd())
	return n
}

func notifySweepCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deliver every reminder group due at or before now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.sweeper.DrainDue(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 0, "max groups to process (0 uses the configured default)")
	return cmd
}

func notifySendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <group-id>",
		Short: "Claim and deliver one reminder group now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.deliverer.SendNow(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func notifyPreviewCmd() *cobra.Command {
	var usernames []string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Dry-run the timezone grouping without persisting or sending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				users := usernames
				if len(users) == 0 {
					var err error
					users, err = a.store.OptedIn(ctx)
					if err != nil {
						return err
					}
				}
				res, err := a.scheduler.DryRun(ctx, notify.Event{Type: "daily-challenge"}, users)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Offset", "Due at (UTC)", "Recipients"})
				for _, g := range res.Groups {
					tw.AppendRow(table.Row{g.OffsetLabel, g.DueAt, g.Recipients})
				}
				tw.Render()
				fmt.Printf("total recipients: %d\n", res.TotalRecipients)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&usernames, "user", []string{}, "username to preview (repeatable; defaults to the opt-in set)")
	return cmd
}

func optinCmd() *cobra.Command {
	o := &cobra.Command{Use: "optin", Short: "Manage the reminder opt-in set"}
	o.AddCommand(optinSetCmd("add", "Add a username to the opt-in set", true))
	o.AddCommand(optinSetCmd("remove", "Remove a username from the opt-in set", false))
	o.AddCommand(optinListCmd())
	return o
}

func optinSetCmd(verb, short string, optedIn bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return a.store.SetOptIn(ctx, args[0], optedIn)
			})
		},
	}
}

func optinListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List opted-in usernames",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				users, err := a.store.OptedIn(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Username"})
				for _, u := range users {
					tw.AppendRow(table.Row{u})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func wordlistCmd() *cobra.Command {
	w := &cobra.Command{Use: "wordlist", Short: "Manage the answer word list"}
	w.AddCommand(wordlistImportCmd())
	w.AddCommand(wordlistCountCmd())
	return w
}

func wordlistImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the word list from a ranked CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			f, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer f.Close()
			ws, err := words.Open(cfg.Words.DBPath)
			if err != nil {
				return err
			}
			n, err := ws.ImportCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"imported": n})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to CSV word list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func wordlistCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Show the word list size",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := words.Open(cfg.Words.DBPath)
			if err != nil {
				return err
			}
			n, err := ws.Count(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"count": n})
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operational HTTP API and the background sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			if a.amqp != nil {
				go func() {
					if err := a.amqp.Consume(ctx, a.deliverer.HandleTrigger); err != nil {
						a.log.Error("amqp consumer stopped", zap.Error(err))
					}
				}()
			}
			go a.sweeper.Run(ctx)

			handler, err := server.New(server.Config{
				Creator:   a.creator,
				Scheduler: a.scheduler,
				Deliverer: a.deliverer,
				Sweeper:   a.sweeper,
				Store:     a.store,
				BasePath:  a.cfg.Server.BasePath,
				Auth:      server.AuthConfig{JWTSecret: a.cfg.Server.JWTSecret, Logger: a.log},
				Log:       a.log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: a.cfg.Server.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Wordmint API on http://%s%s (OpenAPI at %s/openapi.json)\n",
				a.cfg.Server.Addr, a.cfg.Server.BasePath, a.cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	return cmd
}

// --- helpers ---

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
