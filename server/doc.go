// Package server is the HTTP front of an imgflow process: a Gin engine served
// over HTTP/1.1 and h2c, run as a component of the bootstrap lifecycle.
//
// ApplyDefaults wraps the root handler in the middleware stack of
// server/middleware and mounts the endpoints of server/endpoint (/health,
// /alive, /ready, /info, /version, /metrics). The API registers its routes on
// GinEngine afterwards; Routes lists them for the startup summary.
package server
