package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cradle/internal/app"
	"cradle/internal/config"
	"cradle/internal/db"
	"cradle/internal/domain"
	"cradle/internal/engine"
	"cradle/internal/recurrence"
	"cradle/internal/server"
	"cradle/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "cradle",
	Short: "Cradle CLI",
	Long: `Cradle keeps care reminders on schedule.
- Workspace: the .cradle directory holding the reminder database.
- Reminders: one record per occurrence; completing a repeating one
  spawns the next occurrence as a fresh record.
- Recurrence: daily, weekly, monthly (day-of-month clamped to short
  months) or every:N days.
- Watch: runs the due-check loop and prints reminders as they come due;
  anything that came due while cradle was not running is printed on the
  first scan.
- Delivery: optional push notifications through the bridge configured
  in cradle.yml; failures never block the in-app flow.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("CRADLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("owner-id", "local-user", "owner identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("owner-id", rootCmd.PersistentFlags().Lookup("owner-id"))
}

func registerCommands() {
	rootCmd.AddCommand(reminderCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func reminderCmd() *cobra.Command {
	rem := &cobra.Command{Use: "reminder", Short: "Manage reminders"}
	rem.AddCommand(reminderAddCmd())
	rem.AddCommand(reminderListCmd())
	rem.AddCommand(reminderDueCmd())
	rem.AddCommand(reminderGetCmd())
	rem.AddCommand(reminderDoneCmd())
	rem.AddCommand(reminderRescheduleCmd())
	rem.AddCommand(reminderDeleteCmd())
	return rem
}

func reminderAddCmd() *cobra.Command {
	var title, description, category, dueAt, rule string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := parseDue(dueAt)
			if err != nil {
				return err
			}
			opts := engine.CreateOptions{
				OwnerID:     viper.GetString("owner-id"),
				Title:       title,
				Description: description,
				Category:    domain.Category(category),
				DueAt:       due,
			}
			if rule != "" {
				parsed, err := recurrence.Parse(rule)
				if err != nil {
					return err
				}
				opts.Rule = &parsed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.CreateReminder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "other", "category (feeding, vaccine, doctor, medicine, sleep, activity, other)")
	cmd.Flags().StringVar(&dueAt, "due", "", "due time, RFC 3339 or 2006-01-02 15:04")
	cmd.Flags().StringVar(&rule, "repeat", "", "recurrence: daily, weekly, monthly or every:N")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func reminderListCmd() *cobra.Command {
	var limit int
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upcoming reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if owner == "" {
					owner = viper.GetString("owner-id")
				}
				items := a.Engine.ListUpcoming(owner, limit)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderReminderTable(items)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (0 uses config default)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id filter")
	return cmd
}

func reminderDueCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List reminders past their due time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if owner == "" {
					owner = viper.GetString("owner-id")
				}
				items := a.Engine.ListDue(owner)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderReminderTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id filter")
	return cmd
}

func reminderGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.Get(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func reminderDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Complete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, successor, err := a.Engine.CompleteReminder(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"completed": r, "successor": successor})
				}
				fmt.Printf("done: %s (%s)\n", r.Title, r.ID)
				if successor != nil {
					fmt.Printf("next occurrence: %s due %s (%s)\n", successor.Title, successor.DueAt.Format(time.RFC3339), successor.ID)
				}
				return nil
			})
		},
	}
	return cmd
}

func reminderRescheduleCmd() *cobra.Command {
	var dueAt string
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move a reminder to a new due time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := parseDue(dueAt)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.Reschedule(ctx, args[0], due)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&dueAt, "due", "", "new due time, RFC 3339 or 2006-01-02 15:04")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func reminderDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteReminder(ctx, args[0])
			})
		},
	}
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the due-check loop and print reminders as they come due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				go func() {
					_ = a.Scheduler.Run(ctx)
				}()
				for {
					select {
					case <-ctx.Done():
						return nil
					case r, ok := <-a.Scheduler.Feed():
						if !ok {
							return nil
						}
						fmt.Printf("[due] %s  %s (%s) was due %s\n", r.ID, r.Title, r.Category, r.DueAt.Format(time.RFC3339))
					}
				}
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: creates, completions, reschedules, surfacing, and delivery trouble.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, reminderID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Store.LatestEvents(ctx, n, evtType, reminderID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&reminderID, "reminder-id", "", "reminder id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage cradle.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default cradle.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("owner-id"),
					Name:    name,
					KeyHash: store.HashAPIKey(secret),
				}
				if err := a.Store.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Store.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Store.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:      os.Getenv("CRADLE_JWT_SECRET"),
					AllowAnonymous: anonymous,
				}
				if authCfg.JWTSecret == "" && !anonymous {
					return fmt.Errorf("CRADLE_JWT_SECRET is required unless --anonymous is set")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				go func() {
					_ = a.Scheduler.Run(ctx)
				}()
				go drainFeed(ctx, a)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Cradle API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "map unauthenticated requests to the local user")
	return cmd
}

// drainFeed logs surfaced reminders while serving. API clients read
// due reminders through GET /v0/reminders/due.
func drainFeed(ctx context.Context, a *app.App) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-a.Scheduler.Feed():
			if !ok {
				return
			}
			fmt.Printf("[due] %s  %s (%s)\n", r.ID, r.Title, r.Category)
		}
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseDue(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("--due required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", raw, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse due time %q; use RFC 3339 or 2006-01-02 15:04", raw)
}

func renderReminderTable(items []domain.Reminder) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Category", "Due", "Repeat"})
	for _, r := range items {
		repeat := ""
		if r.Rule != nil {
			repeat = r.Rule.String()
		}
		tw.AppendRow(table.Row{r.ID, r.Title, r.Category, r.DueAt.Format("2006-01-02 15:04"), repeat})
	}
	tw.Render()
}

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
