// Package worker runs pipeline hops.
//
// A Worker owns one stage kind. For each delivered message it fetches the
// referenced image from the working store, applies the stage transform and
// either writes the terminal artifact under the run's output folder, or
// writes an intermediate image to the working store and dispatches the
// remaining stages to the next worker. The hop moves through
//
//	RECEIVED -> FETCHING -> TRANSFORMING -> WRITTEN -> TERMINAL | ADVANCING -> DONE
//
// Decode, fetch, transform and write failures end the hop with an error. A
// failed advance publish does not: the written object stays, the run stalls
// and the Report says so.
//
// Runner attaches a Worker to a bus.Subscriber as a lifecycle component.
package worker
