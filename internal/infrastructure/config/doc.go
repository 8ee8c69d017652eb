// Package config loads and validates the exhibit-core configuration.
//
// Values are layered: built-in defaults, then the YAML file, then EXHIBIT_*
// environment variables. Validate reports every problem in one error.
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Controller.Address())
//
// Secrets (MQTT password, InfluxDB token) belong in the environment, not in
// the file.
package config
