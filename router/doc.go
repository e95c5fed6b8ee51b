// Package router implements the message router: it resolves a stage kind to
// its topic through the stage registry, encodes the pipeline message and
// publishes it on the bus.
//
// Dispatch blocks the calling hop until the bus acknowledges or the
// configured publish timeout (60s by default) elapses, and never retries.
// Callers decide what a PUBLISH_TIMEOUT means for them.
package router
