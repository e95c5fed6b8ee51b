package message

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apperrors "github.com/kbukum/imgflow/errors"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "schema.json"

var (
	compiled   *jsonschema.Schema
	compileErr error
	once       sync.Once
)

func schema() (*jsonschema.Schema, error) {
	once.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("failed to load message schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Message is the run state carried from one hop to the next.
//
// OutputFolder and Callback are fixed for the lifetime of a run. Only
// ImageIdentifier and Next change between hops, and Next loses exactly one
// element per hop.
type Message struct {
	// ImageIdentifier is the key of the current artifact in the working store.
	ImageIdentifier string `json:"image_identifier"`
	// Next holds the stage kinds still to apply, head first.
	Next []string `json:"next"`
	// OutputFolder is the terminal destination prefix.
	OutputFolder string `json:"output_folder"`
	// Callback is notified when the run reaches its terminal hop.
	Callback *string `json:"callback"`
}

// IsTerminal reports whether this hop is the last one of the run.
func (m Message) IsTerminal() bool {
	return len(m.Next) == 0
}

// Advance pops the head of Next and returns it together with the message for
// the following hop, which references newID. The receiver is not modified.
func (m Message) Advance(newID string) (string, Message, error) {
	if m.IsTerminal() {
		return "", Message{}, apperrors.MalformedMessage("cannot advance a terminal message")
	}
	if newID == "" {
		return "", Message{}, apperrors.MalformedMessage("image_identifier is required")
	}
	rest := make([]string, len(m.Next)-1)
	copy(rest, m.Next[1:])
	return m.Next[0], Message{
		ImageIdentifier: newID,
		Next:            rest,
		OutputFolder:    m.OutputFolder,
		Callback:        m.Callback,
	}, nil
}

// CallbackURL returns the callback address, or "" when none is set.
func (m Message) CallbackURL() string {
	if m.Callback == nil {
		return ""
	}
	return *m.Callback
}

// Encode serializes the message to its wire form. A nil Next is written as
// an empty array.
func Encode(m Message) ([]byte, error) {
	if m.Next == nil {
		m.Next = []string{}
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a wire payload. Unknown fields are ignored.
func Decode(data []byte) (Message, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Message{}, apperrors.MalformedMessage("payload is not valid JSON").WithCause(err)
	}
	s, err := schema()
	if err != nil {
		return Message{}, apperrors.Internal(err)
	}
	if err := s.Validate(doc); err != nil {
		return Message{}, apperrors.MalformedMessage(schemaReason(err)).WithCause(err)
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, apperrors.MalformedMessage("payload does not match message shape").WithCause(err)
	}
	if m.Next == nil {
		m.Next = []string{}
	}
	return m, nil
}

func validate(m Message) error {
	if m.ImageIdentifier == "" {
		return apperrors.MalformedMessage("image_identifier is required")
	}
	if m.OutputFolder == "" {
		return apperrors.MalformedMessage("output_folder is required")
	}
	for i, k := range m.Next {
		if k == "" {
			return apperrors.MalformedMessage(fmt.Sprintf("next[%d] is empty", i))
		}
	}
	return nil
}

// schemaReason reduces a schema validation error to its most specific cause.
func schemaReason(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
