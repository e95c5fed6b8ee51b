package logger

import "time"

// Field keys shared by every component.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldDuration  = "duration_ms"

	FieldStage        = "stage"
	FieldTopic        = "topic"
	FieldImage        = "image_identifier"
	FieldOutputFolder = "output_folder"
	FieldOutputKey    = "output_key"
	FieldState        = "state"
	FieldRemaining    = "remaining"
	FieldMessageID    = "message_id"
)

// Fields pairs up alternating keys and values. Non-string keys and a trailing
// key without value are dropped.
//
//	log.Info("Published", logger.Fields(logger.FieldTopic, "imgflow.flip", "key", "cat.jpg"))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if k, ok := kvs[i].(string); ok {
			m[k] = kvs[i+1]
		}
	}
	return m
}

// HopFields identifies one hop of a run.
func HopFields(stage, image, folder string) map[string]interface{} {
	return map[string]interface{}{
		FieldStage:        stage,
		FieldImage:        image,
		FieldOutputFolder: folder,
	}
}

// MergeWithError sets the error field on fields, allocating it if nil.
func MergeWithError(fields map[string]interface{}, err error) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if err != nil {
		fields[FieldError] = err.Error()
	}
	return fields
}

// MergeWithDuration sets the duration field in milliseconds.
func MergeWithDuration(fields map[string]interface{}, d time.Duration) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields[FieldDuration] = d.Milliseconds()
	return fields
}
