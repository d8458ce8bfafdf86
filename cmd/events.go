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

	"github.com/ballotd/apiserver/config"
	"github.com/ballotd/apiserver/internal/logging"
	"github.com/ballotd/apiserver/internal/mq"
	"github.com/ballotd/apiserver/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect election events",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Log election events from the configured broker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logging.New(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := mq.Open(ctx, cfg.Events)
		if err != nil {
			return err
		}
		if backend == nil {
			return fmt.Errorf("MQ_BACKEND is not set")
		}
		events := mq.NewEvents(backend, cfg.Events.Channel, log)
		defer events.Close()

		log.WithField("channel", cfg.Events.Channel).Info("watching election events")
		err = events.Watch(ctx, func(ctx context.Context, event types.ElectionEvent) error {
			log.WithFields(logrus.Fields{
				"event":       event.Type,
				"election_id": event.ElectionID,
				"title":       event.Title,
				"occurred_at": event.OccurredAt,
			}).Info("election event")
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
}
