package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
	"github.com/AntonStoeckl/jstreams-go/jstreams/redisengine"
)

const storeURLEnv = "JSTREAMS_STORE_URL"

type settings struct {
	storeURL        string
	verbose         bool
	poolSize        int32
	checkoutTimeout time.Duration
}

func newRootCommand() *cobra.Command {
	s := &settings{}

	cmd := &cobra.Command{
		Use:           "jstreams",
		Short:         "Publish to and listen on Redis or Postgres backed streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultStore := os.Getenv(storeURLEnv)
	if defaultStore == "" {
		defaultStore = redisengine.DefaultStoreURL
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&s.storeURL, "store", defaultStore, "store URL (redis://, rediss://, postgres://), defaults to $"+storeURLEnv)
	flags.BoolVarP(&s.verbose, "verbose", "v", false, "log to stderr")
	flags.Int32Var(&s.poolSize, "pool-size", jstreams.DefaultPoolSize, "connection pool size")
	flags.DurationVar(&s.checkoutTimeout, "checkout-timeout", jstreams.DefaultCheckoutTimeout, "how long to wait for a free connection")

	cmd.AddCommand(
		newPublishCommand(s),
		newListenCommand(s),
		newSchemaCommand(s),
	)

	return cmd
}

func (s *settings) logger(cmd *cobra.Command) *slog.Logger {
	if !s.verbose {
		return slog.New(slog.DiscardHandler)
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (s *settings) contextOptions(cmd *cobra.Command, extra ...jstreams.Option) []jstreams.Option {
	options := []jstreams.Option{
		jstreams.WithPoolSize(s.poolSize),
		jstreams.WithCheckoutTimeout(s.checkoutTimeout),
		jstreams.WithLogger(s.logger(cmd)),
	}

	return append(options, extra...)
}
