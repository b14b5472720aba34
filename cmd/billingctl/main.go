package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"course-billing/config"
	"course-billing/internal/auth"
	"course-billing/internal/broker"
	"course-billing/internal/paystack"
	"course-billing/internal/redisclient"
	"course-billing/internal/service"
	"course-billing/internal/store"
	"course-billing/internal/util"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "billingctl",
		Short:   "Operator tooling for course billing",
		Version: Version,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps holds the connections a one-shot command needs
type deps struct {
	cfg        *config.Config
	store      *store.Store
	redis      *redisclient.Client
	producer   *broker.Producer
	reconciler *service.Reconciler
}

func openDeps() (*deps, error) {
	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	rdb, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		db.Close()
		return nil, err
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBilling)
	gateway := paystack.NewClient(
		cfg.Paystack.BaseURL,
		cfg.Paystack.SecretKey,
		time.Duration(cfg.Paystack.TimeoutSeconds)*time.Second,
	)

	return &deps{
		cfg:      cfg,
		store:    db,
		redis:    rdb,
		producer: producer,
		reconciler: service.NewReconciler(
			db,
			gateway,
			rdb,
			broker.NewEventPublisher(producer),
			time.Duration(cfg.Billing.ReconcileLockSeconds)*time.Second,
		).WithAbandonAfter(time.Duration(cfg.Billing.AbandonAfterHours) * time.Hour),
	}, nil
}

func (d *deps) Close() {
	d.producer.Close()
	d.redis.Close()
	d.store.Close()
	util.SyncLogger()
}

func migrateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := store.NewStore(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if path == "" {
				path = cfg.Database.MigrationsPath
			}
			if err := db.RunMigrations(path); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Migrations directory (defaults to MIGRATIONS_PATH)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [reference]",
		Short: "Verify a payment reference with Paystack and finalize its subscriptions",
		Long: `Verify a payment reference with Paystack and finalize its subscriptions.

Running it against an already finalized reference changes nothing and
reports the stored outcome. A charge Paystack has not settled yet is
reported with status "pending" and left for a later run.

Examples:
  billingctl reconcile T123456789`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			res, err := d.reconciler.Reconcile(ctx, args[0])
			if res != nil {
				if encErr := printJSON(res); encErr != nil {
					return encErr
				}
			}
			if errors.Is(err, service.ErrAmountMismatch) ||
				errors.Is(err, service.ErrPaymentFailed) ||
				errors.Is(err, service.ErrPaymentInconclusive) {
				return nil
			}
			return err
		},
	}
}

func sweepCmd() *cobra.Command {
	var (
		minAge time.Duration
		batch  int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile references that have stayed pending too long",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			if !cmd.Flags().Changed("min-age") {
				minAge = time.Duration(d.cfg.Billing.SweepMinAgeMinutes) * time.Minute
			}
			if !cmd.Flags().Changed("batch") {
				batch = d.cfg.Billing.SweepBatch
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			report, err := d.reconciler.SweepStalePending(ctx, minAge, batch)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().DurationVar(&minAge, "min-age", 30*time.Minute, "Only sweep references pending for at least this long")
	cmd.Flags().IntVarP(&batch, "batch", "n", 50, "Maximum references per sweep")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID int64
		email  string
		roles  []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			tok, err := auth.GenerateToken(userID, email, roles, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User id")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email claim")
	cmd.Flags().StringSliceVarP(&roles, "role", "r", []string{"user"}, "Roles (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
