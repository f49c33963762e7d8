package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/employee-management/internal/audit"
	auditPostgres "github.com/frahmantamala/employee-management/internal/audit/postgres"
	"github.com/frahmantamala/employee-management/internal/core/events"
	"github.com/frahmantamala/employee-management/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish test events through the bus into the audit sinks`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long:  `Publish a test auth event to the event bus and write it to the configured audit sink`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent(args[0])
	},
}

var (
	eventData    string
	eventActor   string
	eventSubject string
	eventDryRun  bool
)

func publishTestEvent(eventType string) {
	var sink audit.Sink
	if !eventDryRun {
		config, err := loadConfig(".")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		db, err := initDB(config.Database)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to init db: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		sink = auditPostgres.NewAuditRepository(db)
	}

	logger := logger.LoggerWrapper()
	eventBus := events.NewEventBus(logger)

	eventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		logger.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	if sink != nil {
		audit.NewService(nil, logger, sink).RegisterEventHandlers(eventBus)
	}

	testEvent := events.NewAuthEvent(eventType, eventActor, eventSubject, map[string]interface{}{
		"message": eventData,
		"source":  "cli-command",
	})

	logger.Info("publishing test event", "event_type", eventType, "event_id", testEvent.EventID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eventBus.PublishSync(ctx, testEvent); err != nil {
		logger.Error("failed to publish event", "error", err)
		return
	}

	logger.Info("test event published successfully")
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Event data message")
	publishEventCmd.Flags().StringVar(&eventActor, "actor", "", "Actor user id")
	publishEventCmd.Flags().StringVar(&eventSubject, "subject", "", "Subject user id")
	publishEventCmd.Flags().BoolVar(&eventDryRun, "dry-run", false, "Only log the event, do not write audit records")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
