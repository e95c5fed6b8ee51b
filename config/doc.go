// Package config loads the imgflow configuration with Viper.
//
//	var cfg app.Config
//	err := config.Load("imgflow", &cfg, config.WithConfigFile("deploy/config.yml"))
//
// Values come from config.yml (searched for in the working directory,
// cmd/<service>/ and config/), an environment overlay such as
// config.production.yml, a .env file and IMGFLOW_* environment variables, in
// that order of precedence. Every section also carries ApplyDefaults and
// Validate, called by the bootstrap before anything starts.
package config
