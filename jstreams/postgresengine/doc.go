// Package postgresengine provides a jstreams store engine on two PostgreSQL tables.
//
// Entries live in jstreams_entries with a bigserial ID that doubles as the entry ID.
// Consumer groups are rows in jstreams_group_offsets holding the highest acknowledged ID per stream.
// A group read returns the entries above that offset; Ack moves the offset forward and never back.
//
// The engine keeps no per-consumer pending lists: an entry whose handler failed is delivered again
// only until a later entry of the same stream is acknowledged, and ClaimAbandoned never finds anything.
// Blocking reads poll the entries table.
//
// The engine works with pgx (pgxpool.Pool), database/sql (for example with lib/pq) and sqlx:
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	engine, _ := postgresengine.NewEngineFromPGXPool(pool)
//	_ = engine.CreateSchema(ctx)
//	streams, _ := jstreams.New(engine.Dialer())
package postgresengine
