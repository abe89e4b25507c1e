// Package config handles loading and validating the electrolyser core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ELECTROLYSER_*)
//   - Validation of required fields
//   - Default values matching the reference pipeline (1000-slot queue,
//     3 workers, 20s idle threshold, +8h storage offset, 10 minute
//     reconciliation)
//
// Security Considerations:
//   - Broker passwords, source tokens and database URLs should be set via
//     environment variables rather than committed YAML
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Ingest.IdleDuration())
package config
