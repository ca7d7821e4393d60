/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tasktrack/apiserver/config"
	"github.com/tasktrack/apiserver/internal/events"
	"github.com/tasktrack/apiserver/internal/mq"
	"github.com/tasktrack/apiserver/internal/storage"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Archive task events into object storage",
	Long: `Consumes the task event channel and writes every event to the configured
object storage as events/YYYY/MM/DD/<type>/<id>.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, archiver, bucket, err := openArchive(ctx, cfg)
		if err != nil {
			return err
		}
		defer queue.Close()

		logger.Info("worker started", "channel", cfg.Events.Channel, "bucket", bucket)
		if err := queue.Subscribe(ctx, cfg.Events.Channel, archiver.Handler(logger)); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("worker stopped")
		return nil
	},
}

var workerReplayCmd = &cobra.Command{
	Use:   "replay <prefix>",
	Short: "Publish archived events again",
	Long: `Loads every archived event under the given prefix, for example
events/2026/10/15, and publishes it to the event channel again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		queue, archiver, _, err := openArchive(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer queue.Close()

		n, err := archiver.Replay(cmd.Context(), args[0], events.NewBrokerPublisher(queue, cfg.Events.Channel))
		logger.Info("events replayed", "prefix", args[0], "count", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerReplayCmd)
}

// openArchive connects the broker and object storage the worker needs.
func openArchive(ctx context.Context, cfg config.Config) (*mq.MQ, *events.Archiver, string, error) {
	queue, err := mq.Open(ctx, cfg.Events)
	if err != nil {
		if errors.Is(err, mq.ErrDisabled) {
			return nil, nil, "", fmt.Errorf("worker needs EVENTS_BACKEND: %w", err)
		}
		return nil, nil, "", err
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = queue.Close()
		if errors.Is(err, storage.ErrDisabled) {
			return nil, nil, "", fmt.Errorf("worker needs STORAGE_BACKEND: %w", err)
		}
		return nil, nil, "", err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		_ = queue.Close()
		return nil, nil, "", fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
	}
	return queue, events.NewArchiver(objects), objects.Bucket(), nil
}
