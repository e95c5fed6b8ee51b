// Package api exposes run submission and output listing over HTTP.
//
//	POST /api/v1/runs            multipart: file, stages (repeated or comma separated), mode, callback, output_folder
//	GET  /api/v1/outputs/*folder locations currently under the run's output folder
//	GET  /api/v1/stages          registered stages
//
// Submissions pass through a bulkhead and an optional per-client rate limit.
package api
