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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"statusline/internal/app"
	"statusline/internal/config"
	"statusline/internal/domain"
	"statusline/internal/engine"
	"statusline/internal/logging"
	statuslinesdk "statusline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "stl",
	Short: "Statusline CLI",
	Long: `Statusline collects weekly task updates over WhatsApp.
- Members: people in the team directory, matched by their WhatsApp number.
- Tasks: owned by one member and filed under an ISO week like 2026-W42.
- Updates: free text such as "A done", "B 60%" or "C blocked waiting on X"; the bot
  picks the task, updates the tracker and appends to the task's update log.
- Digest: the weekly list a member receives, with letters they can reply with.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STATUSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace directory (overrides store.workspace)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/statusline.yml if present)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(triggerCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage statusline.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default statusline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(workspaceFlag())
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked (YAML)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			masked := *c
			masked.Twilio.AuthToken = mask(masked.Twilio.AuthToken)
			masked.Trigger.Secret = mask(masked.Trigger.Secret)
			masked.Model.APIKey = mask(masked.Model.APIKey)
			masked.Redis.Password = mask(masked.Redis.Password)
			out, err := yaml.Marshal(masked)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUnsigned bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and jobs HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if cmd.Flags().Changed("allow-unsigned") {
				cfg.Twilio.AllowUnsigned = allowUnsigned
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := app.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := a.Handler()
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving statusline",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", cfg.Server.BasePath),
				zap.String("model_provider", cfg.Model.Provider),
				zap.Bool("dedupe", a.Deduper != nil),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().BoolVar(&allowUnsigned, "allow-unsigned", false, "accept webhooks without a valid signature (development only)")
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage the team directory"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var id, name, address string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if id == "" {
					id = uuid.NewString()
				}
				m := domain.Member{
					ID:             id,
					DisplayName:    strings.TrimSpace(name),
					ChannelAddress: domain.NormalizeChannelAddress(address),
					CreatedAt:      time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Repo.InsertMember(ctx, m); err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "member id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&address, "address", "", "WhatsApp number, e.g. +15550001")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				members, err := a.Repo.ListMembers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Address"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.ID, m.DisplayName, m.ChannelAddress})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var id, owner, title, due, week, status string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task for a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID, err := resolveOwner(ctx, a, owner)
				if err != nil {
					return err
				}
				if id == "" {
					id = uuid.NewString()
				}
				if week == "" {
					week = a.Engine.WeekKey()
				}
				if due != "" {
					if _, err := time.Parse("2006-01-02", due); err != nil {
						return fmt.Errorf("invalid --due %q: want YYYY-MM-DD", due)
					}
				}
				t := domain.Task{
					ID:        id,
					Title:     title,
					Status:    status,
					DueDate:   optionalString(due),
					OwnerID:   ownerID,
					WeekKey:   week,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Repo.InsertTask(ctx, t); err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner member id or WhatsApp number")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().StringVar(&week, "week", "", "week key (default current week)")
	cmd.Flags().StringVar(&status, "status", domain.StatusNotStarted, "initial status")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var owner, week string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a member's tasks for a week, in digest order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID, err := resolveOwner(ctx, a, owner)
				if err != nil {
					return err
				}
				if week == "" {
					week = a.Engine.WeekKey()
				}
				tasks, err := a.Engine.Directory.ListTasksForMemberWeek(ctx, ownerID, week)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "ID", "Title", "Status", "Progress", "Due", "Attention"})
				for _, c := range domain.LabelTasks(tasks) {
					progress := ""
					if c.Task.Progress != nil {
						progress = fmt.Sprintf("%d%%", *c.Task.Progress)
					}
					attention := ""
					if c.Task.NeedsAttention {
						attention = "!"
					}
					tw.AppendRow(table.Row{c.Label, c.Task.ID, c.Task.Title, c.Task.Status, progress, stringOrEmpty(c.Task.DueDate), attention})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner member id or WhatsApp number")
	cmd.Flags().StringVar(&week, "week", "", "week key (default current week)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its update log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func digestCmd() *cobra.Command {
	var to, week string
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Preview a member's weekly digest from the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, found, err := a.Engine.PreviewWeekly(ctx, to, week)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("member %s not found in team directory", to)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": true, "preview_message": p.Message, "tasks": p.Tasks})
				}
				fmt.Println(p.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "member WhatsApp number")
	cmd.Flags().StringVar(&week, "week", "", "week key (default current week)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func messageCmd() *cobra.Command {
	var from, body string
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Handle an inbound message locally and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out := a.Engine.HandleMessage(ctx, engine.Inbound{From: from, Body: body, MessageSID: "local-" + uuid.NewString()})
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println(out.Reply)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender WhatsApp number")
	cmd.Flags().StringVar(&body, "body", "", "message text")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func weekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "week",
		Short: "Print the current week key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			fmt.Println(domain.WeekKey(time.Now().In(loc)))
			return nil
		},
	}
}

func triggerCmd() *cobra.Command {
	var baseURL, secret, to, week string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Call a running server's send_weekly job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				secret = cfg.Trigger.Secret
			}
			c := statuslinesdk.New(baseURL, secret)
			res, err := c.SendWeekly(cmd.Context(), to, week)
			if err != nil {
				return err
			}
			if viper.GetBool("json") || !res.OK {
				return printJSON(res)
			}
			fmt.Println(res.PreviewMessage)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080/api", "server API base URL")
	cmd.Flags().StringVar(&secret, "secret", "", "trigger secret (default trigger.secret)")
	cmd.Flags().StringVar(&to, "to", "", "member WhatsApp number")
	cmd.Flags().StringVar(&week, "week", "", "week key (default server's current week)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// --- helpers ---

func workspaceFlag() string {
	return viper.GetString("workspace")
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(workspaceFlag())
	}
	if err != nil {
		return nil, err
	}
	if ws := workspaceFlag(); ws != "" {
		cfg.Store.Workspace = ws
	}
	if err := cfg.ApplyEnv(viper.GetViper()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func resolveOwner(ctx context.Context, a *app.App, owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if !strings.HasPrefix(owner, "+") && !strings.HasPrefix(strings.ToLower(owner), "whatsapp:") {
		return owner, nil
	}
	m, ok, err := a.Engine.Directory.FindMemberByChannelAddress(ctx, domain.NormalizeChannelAddress(owner))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no member with address %s", owner)
	}
	return m.ID, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
