package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iago/consulta-async/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidMessage = errors.New("invalid queue message")

const messageSchemaSource = `{
	"type": "object",
	"required": ["consulta_id", "tipo_consulta", "codigo"],
	"properties": {
		"consulta_id": {"type": "integer", "minimum": 1},
		"tipo_consulta": {"enum": ["listar_todos", "buscar_codigo"]},
		"codigo": {"type": ["string", "null"]}
	},
	"if": {"properties": {"tipo_consulta": {"const": "buscar_codigo"}}},
	"then": {"properties": {"codigo": {"type": "string", "minLength": 1}}}
}`

var messageSchema = jsonschema.MustCompileString("consulta-message.json", messageSchemaSource)

// EncodeMessage renders the wire form {consulta_id, tipo_consulta, codigo}.
func EncodeMessage(message domain.QueueMessage) ([]byte, error) {
	encoded, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	return encoded, nil
}

// DecodeMessage parses and validates a delivery body against the message contract.
func DecodeMessage(data []byte) (domain.QueueMessage, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := messageSchema.Validate(raw); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var message domain.QueueMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return message, nil
}
