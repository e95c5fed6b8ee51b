// Package logger is the zerolog-backed structured logger of imgflow.
//
// Components take a *Logger, tag it with WithComponent and pass fields as
// maps using the shared keys:
//
//	log := base.WithComponent("worker")
//	log.Info("Hop complete", logger.HopFields("flip", "cat.jpg", "cat_augmented"))
//
//	logging:
//	  level: info
//	  format: json
//	  output: /var/log/imgflow.log
package logger
