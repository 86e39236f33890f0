package queue

import (
	"errors"
	"testing"

	"github.com/iago/consulta-async/internal/domain"
)

func TestEncodeMessageWireFormat(t *testing.T) {
	key := "P001"
	body, err := EncodeMessage(domain.QueueMessage{JobID: 7, Kind: domain.QueryKindFindByKey, SearchKey: &key})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(body) != `{"consulta_id":7,"tipo_consulta":"buscar_codigo","codigo":"P001"}` {
		t.Fatalf("unexpected body %s", body)
	}

	body, err = EncodeMessage(domain.QueueMessage{JobID: 8, Kind: domain.QueryKindListAll})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(body) != `{"consulta_id":8,"tipo_consulta":"listar_todos","codigo":null}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestDecodeMessageAcceptsValidBodies(t *testing.T) {
	message, err := DecodeMessage([]byte(`{"consulta_id":3,"tipo_consulta":"buscar_codigo","codigo":"P002"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if message.JobID != 3 || message.Kind != domain.QueryKindFindByKey || message.Key() != "P002" {
		t.Fatalf("unexpected message %+v", message)
	}

	message, err = DecodeMessage([]byte(`{"consulta_id":4,"tipo_consulta":"listar_todos","codigo":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if message.SearchKey != nil {
		t.Fatalf("expected nil search key, got %q", *message.SearchKey)
	}
}

func TestDecodeMessageRejectsInvalidBodies(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing id":        `{"tipo_consulta":"listar_todos","codigo":null}`,
		"zero id":           `{"consulta_id":0,"tipo_consulta":"listar_todos","codigo":null}`,
		"fractional id":     `{"consulta_id":1.5,"tipo_consulta":"listar_todos","codigo":null}`,
		"unknown kind":      `{"consulta_id":1,"tipo_consulta":"borrar","codigo":null}`,
		"missing codigo":    `{"consulta_id":1,"tipo_consulta":"listar_todos"}`,
		"lookup null key":   `{"consulta_id":1,"tipo_consulta":"buscar_codigo","codigo":null}`,
		"lookup empty key":  `{"consulta_id":1,"tipo_consulta":"buscar_codigo","codigo":""}`,
		"array instead obj": `[1,2]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(body))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestDecodeMessageKeepsLargeIDsExact(t *testing.T) {
	message, err := DecodeMessage([]byte(`{"consulta_id":9007199254740993,"tipo_consulta":"listar_todos","codigo":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if message.JobID != 9007199254740993 {
		t.Fatalf("expected exact id, got %d", message.JobID)
	}
}
