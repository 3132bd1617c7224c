package main

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

func newPublishCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <stream> <json>",
		Short: "Append one JSON message to a stream and print its entry ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var message any
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(args[1], &message); err != nil {
				return errors.Join(jstreams.ErrSerialization, fmt.Errorf("parsing message: %w", err))
			}

			st, err := openStore(cmd.Context(), s, s.logger(cmd))
			if err != nil {
				return err
			}
			defer st.close()

			c, err := jstreams.New(st.dialer, s.contextOptions(cmd, jstreams.WithoutSignalHandling())...)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			id, err := c.Publish(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)

			return nil
		},
	}
}
