// Package bus defines the transport-neutral publish and subscribe ports the
// pipeline runs on, plus an in-memory implementation.
//
// The kafka package provides the production transport. The in-memory bus is
// used when bus.driver is "memory" (single-process runs) and as a test fixture.
//
// # Delivery
//
// A Delivery carries the topic, partition key, raw value and string headers of
// one message. Subscribers receive deliveries one at a time per topic and
// group; a handler error is logged by the subscriber and never stops the loop.
package bus
