// Package redisengine provides a jstreams store engine on Redis Streams.
//
// Every pooled jstreams connection owns one go-redis client limited to a single network connection,
// so the jstreams pool size is the number of Redis connections a Context opens.
//
// Entries are appended with XADD under the field "payload". Consumer groups are created with
// XGROUP CREATE ... MKSTREAM, read with XREADGROUP, acknowledged with XACK and taken over from
// idle consumers with XAUTOCLAIM.
//
// Usage:
//
//	ctx, err := redisengine.NewContext("redis://localhost:6379/0", jstreams.WithPoolSize(5))
//	if err != nil {
//		return err
//	}
//	defer ctx.Close()
package redisengine
