// Package ingress starts pipeline runs.
//
// Submit stores the uploaded image in the working store under a key derived
// from its filename, then publishes the first messages of the run:
//
//   - single: one terminal message per requested stage, each against the
//     original image
//   - chain: one message to the first stage carrying the rest in order
//
// Unknown stages are rejected before anything is stored or published.
package ingress
