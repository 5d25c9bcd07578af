package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// A .env file is optional; real environment variables still apply.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("collabd failed")
		os.Exit(1)
	}
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}
