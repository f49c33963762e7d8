package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/employee-management/internal/audit"
	auditPostgres "github.com/frahmantamala/employee-management/internal/audit/postgres"
	"github.com/frahmantamala/employee-management/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that consume from the message broker.`,
}

// Audit worker command
var auditWorkerCmd = &cobra.Command{
	Use:   "audit",
	Short: "Persist audit records queued by the server",
	Long:  `Consume the audit queue and write every record to the audit_logs table. Needed when broker.enabled is true.`,
	Run: func(cmd *cobra.Command, args []string) {
		startAuditWorker()
	},
}

var auditQueue string

func startAuditWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		logger.Error("failed to init db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	queue := getStringFlag(auditQueue, config.Broker.Queue)
	consumer, err := audit.DialAMQPConsumer(config.Broker.URL, queue, logger,
		audit.WithRetryBackoff(config.Broker.RetryDelay, config.Broker.MaxRetryDelay))
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("audit worker is running. Press Ctrl+C to stop.", "queue", queue)

	if err := consumer.Run(ctx, auditPostgres.NewAuditRepository(db)); err != nil {
		logger.Error("audit worker stopped", "error", err)
		return
	}
	logger.Info("audit worker shutdown complete")
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func init() {
	auditWorkerCmd.Flags().StringVar(&auditQueue, "queue", "", "Audit queue name (overrides config)")

	workerCmd.AddCommand(auditWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
