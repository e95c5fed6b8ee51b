// Package message implements the pipeline message codec.
//
// The wire form is JSON:
//
//	{"image_identifier": "cat.jpg", "next": ["flip"], "output_folder": "cat_augmented", "callback": null}
//
// Decode validates every payload against an embedded JSON Schema and returns a
// MALFORMED_MESSAGE AppError when a required field is missing or has the
// wrong shape. Unknown fields are accepted and dropped.
package message
