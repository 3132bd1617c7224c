// Package adapters puts pgx, database/sql and sqlx behind one small interface,
// so the postgres engine runs the same parameterized queries on any of them.
package adapters
