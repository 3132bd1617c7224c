package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

func newListenCommand(s *settings) *cobra.Command {
	var (
		key    string
		oldest bool
		count  int64
	)

	cmd := &cobra.Command{
		Use:   "listen <name> <stream>...",
		Short: "Consume streams as a subscription and print each message until interrupted",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), s, s.logger(cmd))
			if err != nil {
				return err
			}
			defer st.close()

			c, err := jstreams.New(st.dialer, s.contextOptions(cmd)...)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			startID := jstreams.StartNewest
			if oldest {
				startID = jstreams.StartOldest
			}

			var handled atomic.Int64
			out := cmd.OutOrStdout()

			handler := jstreams.HandlerFunc(func(_ context.Context, msg jstreams.Message) error {
				fmt.Fprintf(out, "%s\t%s\t%s\n", msg.Stream, msg.ID, msg.Raw)

				if count > 0 && handled.Add(1) >= count {
					_ = c.Shutdown()
				}

				return nil
			})

			options := []jstreams.SubscribeOption{jstreams.WithStartID(startID)}
			if key != "" {
				options = append(options, jstreams.WithKey(key))
			}

			if _, err := c.Subscribe(args[0], args[1:], handler, options...); err != nil {
				return err
			}

			return c.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "consumer group key, defaults to the subscription name")
	cmd.Flags().BoolVar(&oldest, "oldest", false, "replay the streams from the first entry when the group is new")
	cmd.Flags().Int64Var(&count, "count", 0, "stop after this many messages (0 means run until interrupted)")

	return cmd
}
