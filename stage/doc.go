// Package stage holds the stage registry: the static table mapping each
// stage kind to its bus topic, output-name suffix and transform parameters.
//
// The registry is built once at startup, from Default or FromConfig, and is
// read-only afterwards:
//
//	reg, err := stage.FromConfig(cfg.Pipeline.Stages)
//	s, err := reg.Resolve("flip") // s.Topic == "imgflow.flip"
//
// Resolving an unregistered kind returns an UNKNOWN_STAGE AppError.
package stage
