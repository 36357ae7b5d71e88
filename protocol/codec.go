package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wippyai/wasm-chess/errors"
)

// ErrMalformed matches every decoding failure via errors.Is.
var ErrMalformed = &errors.Error{Phase: errors.PhaseProtocol, Kind: errors.KindMalformedMessage}

var nullResult = json.RawMessage("null")

type envelope struct {
	Type         string          `json:"type"`
	ID           *int64          `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	OK           *bool           `json:"ok,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	ModuleSource *string         `json:"moduleSource,omitempty"`
	SourceTried  *string         `json:"sourceTried,omitempty"`
}

// Decode parses and validates one frame. Every failure matches ErrMalformed.
func Decode(frame []byte) (Message, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(frame))
	if err := dec.Decode(&env); err != nil {
		return nil, errors.Malformed("invalid JSON", err)
	}
	if dec.More() {
		return nil, errors.Malformed("trailing data after message", nil)
	}

	switch env.Type {
	case TypeRequest:
		if env.ID == nil {
			return nil, missing(env.Type, "id")
		}
		if env.Method == "" {
			return nil, missing(env.Type, "method")
		}
		return Request{ID: *env.ID, Method: Method(env.Method), Params: env.Params}, nil

	case TypeCancel:
		if env.ID == nil {
			return nil, missing(env.Type, "id")
		}
		return Cancel{ID: *env.ID}, nil

	case TypeResponse:
		if env.ID == nil {
			return nil, missing(env.Type, "id")
		}
		if env.OK == nil {
			return nil, missing(env.Type, "ok")
		}
		if *env.OK {
			result := env.Result
			if result == nil {
				result = nullResult
			}
			return Success{ID: *env.ID, Result: result}, nil
		}
		var info ErrorInfo
		if len(env.Error) == 0 {
			return nil, missing(env.Type, "error")
		}
		if err := json.Unmarshal(env.Error, &info); err != nil {
			return nil, errors.Malformed("response error is not an object", err)
		}
		if info.Kind == "" {
			return nil, missing(env.Type, "error.kind")
		}
		return Failure{ID: *env.ID, Error: info}, nil

	case TypeInit:
		var src string
		if env.ModuleSource != nil {
			src = *env.ModuleSource
		}
		return Init{ModuleSource: src}, nil

	case TypeBootstrapError:
		var msg string
		if len(env.Error) > 0 {
			if err := json.Unmarshal(env.Error, &msg); err != nil {
				return nil, errors.Malformed("bootstrap error is not a string", err)
			}
		}
		var tried string
		if env.SourceTried != nil {
			tried = *env.SourceTried
		}
		return BootstrapError{Error: msg, SourceTried: tried}, nil

	case "":
		return nil, missing("message", "type")

	default:
		return nil, errors.Malformed(fmt.Sprintf("unknown message type %q", env.Type), nil)
	}
}

func missing(typ, field string) error {
	return errors.Malformed(fmt.Sprintf("%s message without %s", typ, field), nil)
}

// Encode serializes m to one frame.
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.messageType()}

	switch v := m.(type) {
	case Request:
		env.ID = &v.ID
		env.Method = string(v.Method)
		env.Params = v.Params
	case Cancel:
		env.ID = &v.ID
	case Success:
		ok := true
		env.ID = &v.ID
		env.OK = &ok
		env.Result = v.Result
		if len(env.Result) == 0 {
			env.Result = nullResult
		}
	case Failure:
		ok := false
		env.ID = &v.ID
		env.OK = &ok
		raw, err := json.Marshal(v.Error)
		if err != nil {
			return nil, err
		}
		env.Error = raw
	case Init:
		env.ModuleSource = &v.ModuleSource
	case BootstrapError:
		raw, err := json.Marshal(v.Error)
		if err != nil {
			return nil, err
		}
		env.Error = raw
		env.SourceTried = &v.SourceTried
	default:
		return nil, errors.New(errors.PhaseProtocol, errors.KindUnsupported).
			Detail("cannot encode %T", m).
			Build()
	}

	return json.Marshal(env)
}
