// Package bootstrap drives the lifecycle of an imgflow process: it validates
// the typed config, initialises the logger, starts registered components in
// order, runs configure callbacks that wire the pipeline, prints a startup
// summary, and shuts everything down in reverse on SIGINT/SIGTERM.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(kafkaComponent)
//	app.OnConfigure(wirePipeline)
//	return app.Run(ctx)
package bootstrap
