package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evalbot/internal/config"
	"evalbot/internal/remote"
	"evalbot/internal/transport"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List chapters with incomplete knowledge units",
	Long: `Queries the assessment service for the chapters that still contain
incomplete knowledge units. Requires api-mode credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if flagCourse != "" {
			cfg.CourseID = flagCourse
		}
		cfg.Mode = config.ModeAPI
		if err := cfg.Validate(); err != nil {
			return err
		}

		rc := remote.New(remote.Config{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			SignKey: cfg.Remote.SignKey,
		}, transport.New(cfg.Transport.Build(), logger), logger)

		chapters, err := rc.OutstandingChapters(cmd.Context(), cfg.CourseID)
		if err != nil {
			return err
		}
		if len(chapters) == 0 {
			fmt.Println("no incomplete chapters")
			return nil
		}
		for _, ch := range chapters {
			fmt.Println(ch.Title)
			for _, u := range ch.Units {
				fmt.Printf("  %s  %s\n", u.ID, u.Name)
			}
		}
		logger.Debug("outstanding chapters listed", zap.Int("chapters", len(chapters)))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&flagCourse, "course", "", "course id on the assessment service (overrides config)")
}
