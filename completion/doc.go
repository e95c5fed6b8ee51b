// Package completion reads the terminal artifacts of a run from the output
// store. It never waits: callers poll ListOutputs until the run's folder is
// populated.
package completion
