package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vionhq/vion/internal/config"
	"github.com/vionhq/vion/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:   "vion",
		Short: "Multi-channel conversational assistant server",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.Postgres)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
