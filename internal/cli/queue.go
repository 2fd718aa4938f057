package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/realtime"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
)

var (
	migrationsDir string
	dryRun        bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the SQL schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pg.Close()

		dir := migrationsDir
		if dir == "" {
			dir = cfg.Postgres.MigrationsDir
		}
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), dir, logger); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rewrite workload counters from the open assignments",
	Long: `Compare every user's tickets_assigned counter with the number of open
tickets assigned to them and rewrite the counters that drifted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, pg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pg.Close()

		assignment := service.NewAssignmentService(service.AssignmentDependencies{
			Runtime: runtimeFor(store, nil),
		})
		drifted, err := assignment.ReconcileCounters(ctx, dryRun)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(drifted) == 0 {
			fmt.Fprintln(out, "all counters match")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tNAME\tCOUNTER\tACTUAL")
		for _, e := range drifted {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", e.User.ID, e.User.Name, e.User.TicketsAssigned, e.Actual)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if dryRun {
			fmt.Fprintf(out, "%d counters drifted (dry run, nothing written)\n", len(drifted))
		} else {
			fmt.Fprintf(out, "%d counters rewritten\n", len(drifted))
		}
		return nil
	},
}

var redistributeCmd = &cobra.Command{
	Use:   "redistribute",
	Short: "Hand orphan tickets to online attendants",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, pg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pg.Close()

		deps := service.AssignmentDependencies{LockTTL: cfg.Queue.RedistributeLockTTL()}
		redis := persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		if err := redis.Ping(ctx); err == nil {
			deps.Locker = persistence.NewRedisLocker(redis.Client, "")
			deps.Runtime = runtimeFor(store, realtime.NewRedisBroker(redis.Client, cfg.Redis.ChannelPrefix, logger))
		} else {
			logger.Warn("redis unavailable; running without the cluster lock", zap.Error(err))
			deps.Runtime = runtimeFor(store, nil)
		}

		n, err := service.NewAssignmentService(deps).RedistributeOrphanTickets(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d tickets redistributed\n", n)
		return nil
	},
}

func runtimeFor(store repository.Store, broker realtime.Broker) service.Runtime {
	return service.Runtime{
		Store:   store,
		Broker:  broker,
		Logger:  logger,
		Retry:   cfg.Queue.RetryPolicy(),
		Timeout: cfg.Queue.OperationTimeout(),
	}
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "", "migrations directory (defaults to POSTGRES_MIGRATIONS_DIR)")
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report drift without writing")
}
