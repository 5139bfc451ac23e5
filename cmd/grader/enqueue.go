package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <submission-id>...",
	Short: "Push submissions onto the grading queue",
	Long:  "Re-queues one or more submissions for grading. Submissions that are no longer in the submitted state are skipped by the worker.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid submission id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}

	redisClient, err := database.ConnectRedis(cmd.Context(), cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	jobs := queue.NewRedisQueue(redisClient, cfg.QueueKey, "", 0)
	for _, id := range ids {
		if err := jobs.Enqueue(cmd.Context(), queue.Message{SubmissionID: id.String(), Attempt: 1}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
	}

	depth, err := jobs.Depth(cmd.Context())
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%d waiting, %d in flight (%s)\n", depth.Waiting, depth.Processing, time.Now().Format(time.RFC3339))
	}
	return nil
}
