package main

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/content"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

var showCmd = &cobra.Command{
	Use:   "show <submission-id>",
	Short: "Print the reviewer view of a submission",
	Long:  "Prints a submission with its reference solution and persisted grading result as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var showWithRubric bool

func init() {
	showCmd.Flags().BoolVar(&showWithRubric, "rubric", true, "Resolve the lesson rubric to include question and reference solution")

	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid submission id %q: %w", args[0], err)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, 1)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	submission, err := repository.NewExerciseSubmissionRepository(db).GetByID(cmd.Context(), id)
	if err != nil {
		return err
	}

	var rubric *models.Rubric
	if showWithRubric && cfg.ContentRepository != "" {
		source, err := content.NewGitHubSource(content.GitHubConfig{
			BaseURL:    cfg.ContentBaseURL,
			Repository: cfg.ContentRepository,
			Ref:        cfg.ContentRef,
			Token:      cfg.ContentToken,
			Timeout:    cfg.ContentTimeout,
		})
		if err != nil {
			return err
		}

		resolver := content.NewRubricResolver(source, nil, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop(), content.ResolverConfig{})
		resolved, err := resolver.Resolve(cmd.Context(), submission.LessonID)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "rubric unavailable: %v\n", err)
		} else {
			rubric = &resolved
		}
	}

	response, err := dto.NewAdminSubmissionResponse(submission, rubric)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
