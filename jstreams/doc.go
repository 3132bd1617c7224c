// Package jstreams coordinates publishing to and consuming from a stream-based message store
// on behalf of an application process.
//
// A Context owns a bounded Pool of store connections, a Serializer, a Logger, a Publisher
// and a registry of Subscriptions. Starting the Context turns every registered Subscription
// into one worker goroutine that reads its streams under a consumer group and calls the
// subscription's Handler for each decoded message, until Shutdown is requested.
//
// The store itself is reached through the Conn interface; the redisengine and postgresengine
// packages provide implementations, and the Dialer passed to New decides which one is used.
//
// Lifecycle:
//
//	Created --Start/Run--> Running --Shutdown/signal/ctx--> Stopping --all workers joined--> Stopped
//
// Common usage pattern:
//
//	ctx, err := redisengine.NewContext("redis://localhost:6379/0")
//	if err != nil {
//		// handle error
//	}
//
//	_, err = ctx.Subscribe("orders", []string{"orders-stream"}, jstreams.HandlerFunc(
//		func(ctx context.Context, msg jstreams.Message) error {
//			fmt.Println(msg.Payload)
//			return nil
//		}))
//
//	go ctx.Run(context.Background()) // blocks until Ctrl-C or Shutdown
//
//	_, err = ctx.Publish(context.Background(), "orders-stream", map[string]any{"id": 1})
//
// Failure handling is explicit: see FailurePolicy. By default a failing worker is isolated and
// its error is returned from WaitForShutdown; FailureExit restores fail-fast process termination.
package jstreams
