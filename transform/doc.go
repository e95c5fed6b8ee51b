// Package transform applies stage pixel operations to encoded images.
//
// The Transformer port is what the stage worker calls; Imaging is the
// default implementation built on github.com/disintegration/imaging. Output
// is encoded in the format of the input.
package transform
