package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	rbac "github.com/bohemiyan/TenantRBAC"
	"github.com/bohemiyan/TenantRBAC/internal/config"
	"github.com/bohemiyan/TenantRBAC/internal/db"
	"github.com/bohemiyan/TenantRBAC/zapLogger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair permission drift for a role identifier across all tenants",
	Long: `Reconcile compares the grants of every tenant role carrying an identifier
with a declared permission set, adds the required grants that are missing and
removes the forbidden ones. Runs are idempotent.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one reconciliation pass",
	Example: `  reconcile run --preset consumer
  reconcile run --identifier CHECKER --require KNOWLEDGE.APPROVAL --forbid KNOWLEDGE.CREATE`,
	RunE: runReconcile,
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List built-in permission presets",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range rbac.ReconcilePresetNames() {
			p, _ := rbac.ReconcilePreset(name)
			fmt.Printf("%s (%s)\n", name, p.Identifier)
			for _, c := range p.Required {
				fmt.Printf("  + %s\n", c)
			}
			for _, c := range p.Forbidden {
				fmt.Printf("  - %s\n", c)
			}
		}
	},
}

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the report of the last run for an identifier",
	RunE:  runLast,
}

var (
	presetFlag     string
	identifierFlag string
	requireFlags   []string
	forbidFlags    []string
)

func init() {
	runCmd.Flags().StringVar(&presetFlag, "preset", "", "Built-in preset name (see 'presets')")
	runCmd.Flags().StringVar(&identifierFlag, "identifier", "", "Role identifier, e.g. CHECKER")
	runCmd.Flags().StringSliceVar(&requireFlags, "require", nil, "Required FEATURE.ACTION (repeatable)")
	runCmd.Flags().StringSliceVar(&forbidFlags, "forbid", nil, "Forbidden FEATURE.ACTION (repeatable)")
	runCmd.MarkFlagsMutuallyExclusive("preset", "identifier")
	runCmd.MarkFlagsOneRequired("preset", "identifier")

	lastCmd.Flags().StringVar(&identifierFlag, "identifier", "", "Role identifier (required)")
	lastCmd.MarkFlagRequired("identifier")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(lastCmd)
}

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode maps a command error to the process status. A run that found no
// administrator exits 2 so schedulers can tell it apart from other failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, rbac.ErrNoAdministrator):
		return 2
	default:
		return 1
	}
}

func runReconcile(cmd *cobra.Command, args []string) error {
	plan, err := buildPlan()
	if err != nil {
		return err
	}

	svc, cleanup, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return reconcileWith(ctx, svc, plan, cmd.OutOrStdout())
}

func reconcileWith(ctx context.Context, svc *rbac.RBAC, plan rbac.ReconcilePlan, out io.Writer) error {
	report, err := svc.Reconcile(ctx, plan)
	if err != nil {
		if errors.Is(err, rbac.ErrNoAdministrator) {
			zapLogger.Log.Errorw("Cannot reconcile without an administrator", "identifier", plan.Identifier, "error", err)
		}
		return fmt.Errorf("reconcile %s: %w", plan.Identifier, err)
	}

	fmt.Fprintf(out, "%s: %d roles, %d added, %d removed, %d failed\n",
		report.Identifier, report.RolesScanned, report.Added, report.Removed, report.Failed)
	return nil
}

func runLast(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.LastReconcileReport(cmd.Context(), identifierFlag)
	if err != nil {
		return err
	}
	fmt.Printf("%s at %s by %s: %d roles, %d added, %d removed, %d failed\n",
		report.Identifier, report.FinishedAt.Format("2006-01-02 15:04:05"), report.ActorID,
		report.RolesScanned, report.Added, report.Removed, report.Failed)
	return nil
}

func buildPlan() (rbac.ReconcilePlan, error) {
	if presetFlag != "" {
		p, ok := rbac.ReconcilePreset(presetFlag)
		if !ok {
			return rbac.ReconcilePlan{}, fmt.Errorf("unknown preset %q", presetFlag)
		}
		return p, nil
	}

	plan := rbac.ReconcilePlan{Identifier: identifierFlag}
	for _, key := range requireFlags {
		c, err := parseCapability(key)
		if err != nil {
			return rbac.ReconcilePlan{}, err
		}
		plan.Required = append(plan.Required, c)
	}
	for _, key := range forbidFlags {
		c, err := parseCapability(key)
		if err != nil {
			return rbac.ReconcilePlan{}, err
		}
		plan.Forbidden = append(plan.Forbidden, c)
	}
	return plan, plan.Validate()
}

func parseCapability(key string) (rbac.Capability, error) {
	feature, action, err := rbac.ParseFeatureKey(key)
	if err != nil {
		return rbac.Capability{}, err
	}
	return rbac.Capability{Feature: feature, Action: action}, nil
}

func openService(ctx context.Context) (*rbac.RBAC, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	zapLogger.Init(cfg.LogFile, cfg.Debug)

	pgDB, err := db.NewPostgresDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	redisDB, err := db.NewRedisClient(ctx, cfg)
	if err != nil {
		pgDB.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if redisDB != nil {
			redisDB.Close()
		}
		pgDB.Close()
		zapLogger.Log.Sync()
	}

	svc, err := rbac.New(rbac.Config{
		DB:                 pgDB.GormDB,
		RedisClient:        redisDB,
		Logger:             zapLogger.Log,
		AppName:            cfg.AppName,
		EnableAuditLogging: cfg.AuditEnabled,
		ReconcileLockTTL:   cfg.ReconcileLockTTL,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}
