// Package app wires an imgflow process from its Config.
//
// Build creates the stage registry, the working and output stores, the bus
// (in-memory or Kafka), the router, the ingress dispatcher and the completion
// reader. Commands then take what they need from the Pipeline: the HTTP
// server, per-stage workers and their runners, and the infrastructure
// components to register with bootstrap.
//
//	cfg := &app.Config{}
//	_ = config.Load(app.ServiceName, cfg)
//	p, err := app.Build(ctx, cfg, log)
//	runners, err := p.Runners("grayscale", "flip")
package app
