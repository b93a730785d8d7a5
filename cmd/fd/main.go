package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forgeday/internal/app"
	"forgeday/internal/config"
	"forgeday/internal/db"
	"forgeday/internal/domain"
	"forgeday/internal/engine"
	"forgeday/internal/repo"
	"forgeday/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fd",
	Short: "Forgeday CLI",
	Long: `Forgeday builds one small portfolio project per day.
Each day it plans an idea against your weakest skill, generates a project
skeleton, documents it, commits in staged segments, pushes to your remote
and tracks streaks, skill proficiency and achievements. Runs are resumable:
a crashed run picks up at its last completed stage, and 'fd run --force'
retries a failed day.`,
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
	viper.SetEnvPrefix("FORGEDAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(skillsCmd())
	rootCmd.AddCommand(achievementsCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func runCmd() *cobra.Command {
	var mode string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attempt (or resume) today's run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.AttemptRun(ctx, mode, viper.GetBool("force"), dryRun)
				if err != nil {
					// A stalled push leaves the run committed; surface the
					// partial outcome alongside the error.
					var pushErr *engine.PushError
					var gateErr *engine.QualityGateError
					if errors.As(err, &pushErr) || errors.As(err, &gateErr) {
						_ = printJSONOrTable(out)
					}
					return err
				}
				if out.Skipped {
					fmt.Printf("skipped: %s\n", out.Reason)
					return nil
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "run mode: auto, review or manual (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "commit locally but never push")
	return cmd
}

func confirmCmd() *cobra.Command {
	var date string
	var override bool
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm a run awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.ConfirmPush(ctx, resolveDate(a.Engine, date), override)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&override, "override-quality", false, "push even below the quality minimum")
	return cmd
}

func rejectCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a run awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.RejectPush(ctx, resolveDate(a.Engine, date))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today)")
	return cmd
}

func statusCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runs, err := a.Engine.QueryStatus(ctx, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Mode", "Status", "Forced", "Stage", "Reason"})
				for _, r := range runs {
					stage, reason := "", ""
					if r.FailureStage != nil {
						stage = *r.FailureStage
					}
					if r.FailureReason != nil {
						reason = *r.FailureReason
					}
					tw.AppendRow(table.Row{r.Date, r.Mode, r.Status, r.Forced, stage, reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD")
	return cmd
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show progress snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.QueryProgress(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
}

func skillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "Show skill proficiency (decay applied)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.QueryProgress(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report.Skills)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Skill", "Category", "Proficiency", "Projects", "Last Practiced"})
				for _, s := range report.Skills {
					last := "never"
					if s.LastPracticedAt != nil {
						last = *s.LastPracticedAt
					}
					tw.AppendRow(table.Row{s.Name, s.Category, fmt.Sprintf("%.1f", s.Proficiency), s.ProjectCount, last})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func achievementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "achievements",
		Short: "Show achievements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.QueryProgress(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report.Achievements)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "Name", "Description", "Unlocked"})
				for _, ach := range report.Achievements {
					unlocked := ""
					if ach.Unlocked && ach.UnlockedAt != nil {
						unlocked = *ach.UnlockedAt
					}
					tw.AppendRow(table.Row{ach.Icon, ach.Name, ach.Description, unlocked})
				}
				tw.Render()
				return nil
			})
		},
	}
}

var (
	dashTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).MarginBottom(1)
	dashSectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dashValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dashBarFull      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dashBarEmpty     = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

func proficiencyBar(v float64) string {
	const width = 20
	full := int(v / 100 * width)
	if full > width {
		full = width
	}
	return dashBarFull.Render(strings.Repeat("█", full)) + dashBarEmpty.Render(strings.Repeat("░", width-full))
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Render the progress dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.QueryProgress(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Println(dashTitleStyle.Render("Forgeday"))
				fmt.Printf("%s %s\n", dashSectionStyle.Render("Portfolio score:"),
					dashValueStyle.Render(fmt.Sprintf("%.1f / 100", report.PortfolioScore)))
				fmt.Printf("%s %s (longest %d)\n", dashSectionStyle.Render("Streak:"),
					dashValueStyle.Render(fmt.Sprintf("%d days", report.Streak.CurrentStreak)), report.Streak.LongestStreak)
				fmt.Printf("%s %s\n\n", dashSectionStyle.Render("Completed projects:"),
					dashValueStyle.Render(fmt.Sprintf("%d", report.CompletedProjects)))

				fmt.Println(dashSectionStyle.Render("Skills"))
				for _, s := range report.Skills {
					fmt.Printf("  %-28s %s %5.1f\n", s.Name, proficiencyBar(s.Proficiency), s.Proficiency)
				}
				fmt.Println()
				fmt.Println(dashSectionStyle.Render("Achievements"))
				for _, ach := range report.Achievements {
					mark := dashBarEmpty.Render("○")
					if ach.Unlocked {
						mark = dashBarFull.Render("●")
					}
					fmt.Printf("  %s %s %s\n", mark, ach.Icon, ach.Name)
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				latest, err := a.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				after := latest - int64(n)
				if after < 0 {
					after = 0
				}
				var types []string
				if evtType != "" {
					types = strings.Split(evtType, ",")
				}
				events, err := a.Repo.ListEvents(ctx, after, n, types)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "comma-separated event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default forgeday.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate forgeday.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	cmd.AddCommand(keysCreateCmd())
	cmd.AddCommand(keysListCmd())
	cmd.AddCommand(keysRevokeCmd())
	return cmd
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "fd_" + hex.EncodeToString(raw)
				rec := domain.APIKey{
					ID:      uuid.NewString(),
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := a.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", rec.ID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func keysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FORGEDAY_JWT_SECRET")}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Forgeday API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// resolveDate defaults to the engine's notion of today so that near
// midnight the CLI targets the same date the run was keyed on.
func resolveDate(e *engine.Engine, date string) string {
	if date != "" {
		return date
	}
	return e.Today()
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
