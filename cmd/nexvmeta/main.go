package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nexvmeta",
	Short: "Stock-photo metadata from multimodal models",
	Long: `nexvmeta generates titles, descriptions and keywords for stock photos
using Gemini or Groq, with the same configuration as the API server.

Examples:
  nexvmeta analyze fox.jpg river.png
  nexvmeta analyze --platform shutterstock --locale de ./shots/*.jpg
  nexvmeta apikey set --provider groq --key gsk_...`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newAnalyzeCmd(), newAPIKeyCmd())
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
