package jstreams

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// Serializer turns outgoing messages into payload bytes and incoming payload bytes back into messages.
// Implementations must be safe for concurrent use: one instance is shared by the Publisher and all workers.
type Serializer interface {
	Encode(message any) ([]byte, error)
	Decode(payload []byte) (any, error)
}

// JSONSerializer is the default Serializer. JSON objects decode into map[string]any, numbers into float64.
type JSONSerializer struct {
	api jsoniter.API
}

// NewJSONSerializer creates a JSONSerializer that behaves like encoding/json.
func NewJSONSerializer() JSONSerializer {
	return JSONSerializer{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

// Encode marshals message to JSON.
func (s JSONSerializer) Encode(message any) ([]byte, error) {
	payload, err := s.jsonAPI().Marshal(message)
	if err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}

	return payload, nil
}

// Decode unmarshals a JSON payload into a generic value.
func (s JSONSerializer) Decode(payload []byte) (any, error) {
	var message any

	if err := s.jsonAPI().Unmarshal(payload, &message); err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}

	return message, nil
}

// DecodeInto unmarshals a JSON payload into target, which must be a pointer.
func (s JSONSerializer) DecodeInto(payload []byte, target any) error {
	if err := s.jsonAPI().Unmarshal(payload, target); err != nil {
		return errors.Join(ErrSerialization, err)
	}

	return nil
}

func (s JSONSerializer) jsonAPI() jsoniter.API {
	if s.api == nil {
		return jsoniter.ConfigCompatibleWithStandardLibrary
	}

	return s.api
}
