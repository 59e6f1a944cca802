package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Erikvl87/todosync/internal/render"
	"github.com/Erikvl87/todosync/internal/store"
	"github.com/Erikvl87/todosync/internal/transport"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch the project once and print its tree",
	Long: `Fetch the project's bulk payload and print the ordered task tree:
sections by section order, tasks by child order, subtasks indented.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := newLogger(cfg)

		client, err := transport.NewClient(transport.Config{
			BaseURL: cfg.APIBaseURL,
			Token:   cfg.APIToken,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		payload, err := client.FetchBulk(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("bulk fetch failed: %w", err)
		}

		st := store.New(logger)
		st.Organize(*payload)
		fmt.Print(render.Tree(st.Snapshot()))
		return nil
	},
}
