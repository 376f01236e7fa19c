// Package database handles database connections.
//
// It provides a wrapper around GORM (Go Object Relational Mapping) to properly configure
// MySQL connections based on the application's configuration. A sqlite driver branch
// exists so tests can run against an in-memory database through the same entry point.
//
// # Connect
//
// The generic Connect function establishes a connection to the database. The driver
// is chosen by Config.Driver; connection pooling and I/O timeouts are applied for
// the MySQL path only.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
package database
