// Package config provides configuration management for the stock sync
// service.
//
// It utilizes Viper for loading configuration from environment variables,
// an optional .env file, and struct tag defaults.
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP server settings (port, API key)
//   - Database: MySQL/SQLite connection details
//   - Storage: S3/MinIO credentials and bucket settings
//   - Log: Logging level and format
//   - Shopify: marketplace client settings (API version, retries, bulk export)
//   - Locks: advisory lock lease TTL
//   - Sync: reconciliation engine limits and batch sizes
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
