package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bowerhall/kindred/internal/logger"
)

func init() {
	godotenv.Load()
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "kindred",
		Short:         "Kindred turns recorded reflections into a persona you can talk to",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd(), rebuildCmd(), extractCmd(), usageCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
