package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tidespike/internal/ingest"
	"tidespike/internal/storage"
)

func newImportCmd(root *rootOptions) *cobra.Command {
	var input, station string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a series file into the water_levels table of the source database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if station != "" {
				cfg.Input.Station = station
			}
			if input == "" {
				return errors.New("--input required")
			}
			db := cfg.Input.Database
			if db.DSN == "" {
				return errors.New("input.database.dsn required")
			}
			logger := root.logger(cfg, cmd.ErrOrStderr())
			batch, err := ingest.LoadFile(input, cfg.Input, logger)
			if err != nil {
				return err
			}
			if batch.Station == "" {
				return errors.New("station required (--station or input.station)")
			}
			st, err := storage.Open(db.Driver, db.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Init(cmd.Context()); err != nil {
				return err
			}
			if err := st.SaveObservations(cmd.Context(), batch.Station, batch.Observations); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d observations for station %s (dropped %d)\n",
				len(batch.Observations), batch.Station, batch.Dropped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input file (csv or json)")
	cmd.Flags().StringVarP(&station, "station", "s", "", "station id")
	return cmd
}
