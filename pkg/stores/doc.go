// Package stores provides the SQLite persistence layer: a durable config
// store backing the hive/key/value surface, and a history store for
// executed batch runs. SQLite runs in WAL mode with connection pooling;
// schema changes ship as embedded migrations.
package stores
