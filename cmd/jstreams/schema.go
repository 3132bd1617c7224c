package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

func newSchemaCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the entries and group offsets tables in a Postgres store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd.Context(), s, s.logger(cmd))
			if err != nil {
				return err
			}
			defer st.close()

			if st.engine == nil {
				return errors.Join(jstreams.ErrConfiguration, fmt.Errorf("schema needs a postgres store, got %s", s.storeURL))
			}

			if err := st.engine.CreateSchema(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "schema created")

			return nil
		},
	}
}
