package main

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-relay-bot/internal/repo"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cfg.DBPath, false)
	if err != nil {
		return err
	}
	defer closeDB(db)
	log.Info().Str("db", cfg.DBPath).Msg("schema up to date")
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cfg.DBPath, false)
	if err != nil {
		return err
	}
	defer closeDB(db)

	st, err := repo.LoadStats(cmd.Context(), db)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
