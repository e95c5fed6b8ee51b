// Package validation checks request structs against their `validate` tags
// and turns failures into INVALID_INPUT AppErrors listing each field.
//
//	type Submission struct {
//	    Filename     string `json:"filename" validate:"required,max=255"`
//	    OutputFolder string `json:"output_folder" validate:"omitempty,objectkey"`
//	}
//	if err := validation.Validate(sub); err != nil { ... }
//
// Besides the built-in tags, "objectkey" accepts a relative, slash-separated
// storage key without empty, "." or ".." segments.
package validation
