// Package config loads CareBridge settings from CAREBRIDGE_* environment
// variables.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err) // missing keys fail startup
//	}
//
// Identity, webhook and database credentials are validated up front so a
// misconfigured deployment never starts serving.
package config
