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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sitetrace/internal/app"
	"sitetrace/internal/domain"
	"sitetrace/internal/schedule"
	"sitetrace/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "stc",
	Short: "Sitetrace CLI",
	Long: `Sitetrace reconciles observed construction progress with the planned works graph.
It reads the planned WorkPackage/Activity/Task/Element hierarchy and the as-built
scan records from the platform, derives the as-performed Action/Operation/Construction
nodes, and upserts them idempotently. On top of that it classifies every Activity as
ahead/behind/on schedule and rolls delays up into per-WorkPackage KPIs.`,
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
	viper.SetEnvPrefix("STC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "x", "sitetrace.yml", "configuration file path")
	rootCmd.PersistentFlags().BoolP("simulation", "s", false, "dry run: log remote writes instead of issuing them")
	rootCmd.PersistentFlags().String("log-dir", "", "session log directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("simulation", rootCmd.PersistentFlags().Lookup("simulation"))
	_ = viper.BindPFlag("log-dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func resolveApp() (*app.App, error) {
	return app.Resolve(app.Options{
		ConfigPath: viper.GetString("config"),
		Simulation: viper.GetBool("simulation"),
		LogDir:     viper.GetString("log-dir"),
		LogLevel:   viper.GetString("log-level"),
	})
}

func syncCmd() *cobra.Command {
	var forceUpdate bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the as-performed graph with the latest scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp()
			if err != nil {
				return err
			}
			defer a.Close()
			a.Engine.ForceUpdate = forceUpdate

			ctx := cmd.Context()
			tree, err := a.Engine.LoadHierarchy(ctx)
			if err != nil {
				return err
			}
			if err := a.Engine.ResolveAsBuilt(ctx, tree); err != nil {
				return err
			}
			counts, err := a.Engine.Reconcile(ctx, tree)
			if err != nil {
				return err
			}
			swept, err := a.Engine.RunPreconditions(ctx, tree, a.Markers)
			if err != nil {
				return err
			}

			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"created":      counts.Created,
					"updated":      counts.Updated,
					"force_closed": swept,
				})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Kind", "Created", "Updated"})
			for _, kind := range []domain.Kind{domain.KindAction, domain.KindOperation, domain.KindConstruction} {
				tw.AppendRow(table.Row{kind.String(), counts.Created[kind.String()], counts.Updated[kind.String()]})
			}
			tw.Render()
			fmt.Printf("force-closed work packages: %d\n", len(swept))
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceUpdate, "force-update", false, "revisit nodes already seen this run (still skips equal state)")
	return cmd
}

func progressCmd() *cobra.Command {
	var withKPIs bool
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Classify every activity against its plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			tree, err := a.Engine.LoadHierarchy(ctx)
			if err != nil {
				return err
			}
			if err := a.Engine.ResolveAsBuilt(ctx, tree); err != nil {
				return err
			}
			reports, err := a.Analyzer.Analyze(ctx, tree)
			if err != nil {
				return err
			}
			var kpis []schedule.WorkPackageKPI
			if withKPIs {
				swept, err := a.Markers.ProcessedSet(ctx)
				if err != nil {
					return err
				}
				kpis, err = schedule.AggregateKPIs(reports, tree.LatestScan(), swept)
				if err != nil {
					return err
				}
			}

			if viper.GetBool("json") {
				out := map[string]any{"activities": reports}
				if withKPIs {
					out["kpis"] = kpis
				}
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Activity", "Status", "Days", "Completion", "Projected"})
			for _, r := range reports {
				projected := ""
				if r.ProjectedDays != nil {
					projected = fmt.Sprintf("%d", *r.ProjectedDays)
				}
				tw.AppendRow(table.Row{r.ActivityIRI, r.Status, r.Days, fmt.Sprintf("%.1f%%", r.Completion), projected})
			}
			tw.Render()
			if withKPIs {
				kw := table.NewWriter()
				kw.SetOutputMirror(os.Stdout)
				kw.AppendHeader(table.Row{"WorkPackage", "Activities", "Delayed", "Delay-day ratio", "Delayed ratio"})
				for _, k := range kpis {
					kw.AppendRow(table.Row{k.WorkPackageIRI, k.Activities, k.Delayed,
						fmt.Sprintf("%.3f", k.DelayDayRatio), fmt.Sprintf("%.3f", k.DelayedActivityRatio)})
				}
				kw.Render()
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&withKPIs, "kpis", "k", false, "also compute per-work-package KPIs")
	return cmd
}

func deleteCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete as-performed nodes from the platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp()
			if err != nil {
				return err
			}
			defer a.Close()
			deleted, err := a.Engine.DeletePerformed(cmd.Context(), level)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"deleted": deleted})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Kind", "Deleted"})
			total := 0
			for _, kind := range []domain.Kind{domain.KindConstruction, domain.KindOperation, domain.KindAction} {
				n, ok := deleted[kind.String()]
				if !ok {
					continue
				}
				tw.AppendRow(table.Row{kind.String(), n})
				total += n
			}
			tw.Render()
			fmt.Printf("deleted %d nodes\n", total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&level, "target-level", "t", "", "construction|operation|action|all")
	_ = cmd.MarkFlagRequired("target-level")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Local write journal",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent remote writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp()
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := a.Journal.Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Time", "Op", "Kind", "IRI"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.TS.Format(time.RFC3339), e.Op, e.Kind, e.IRI})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only report API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp()
			if err != nil {
				return err
			}
			defer a.Close()
			secret := os.Getenv("STC_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("STC_JWT_SECRET is required for bearer auth")
			}
			handler := server.New(server.Config{
				Engine:   a.Engine,
				Analyzer: a.Analyzer,
				Markers:  a.Markers,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					a.Log.Error("server shutdown", "err", err)
				}
			}()
			fmt.Printf("Serving Sitetrace API on http://%s%s\n", addr, basePath)
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

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
