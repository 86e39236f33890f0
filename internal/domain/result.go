package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CatalogRecord is a product row owned by the catalog store.
type CatalogRecord struct {
	Key      string `json:"codigo"`
	Name     string `json:"nombre"`
	Location string `json:"ubicacion"`
}

type ResultKind string

const (
	ResultKindList   ResultKind = "list"
	ResultKindRecord ResultKind = "record"
	ResultKindError  ResultKind = "error"
)

// Result is the terminal payload of a job. Exactly one variant is set,
// selected by Kind.
type Result struct {
	Kind    ResultKind
	Records []CatalogRecord
	Record  CatalogRecord
	Error   string
}

func ListResult(records []CatalogRecord) Result {
	if records == nil {
		records = []CatalogRecord{}
	}
	return Result{Kind: ResultKindList, Records: records}
}

func RecordResult(record CatalogRecord) Result {
	return Result{Kind: ResultKindRecord, Record: record}
}

func ErrorResult(message string) Result {
	return Result{Kind: ResultKindError, Error: message}
}

type errorPayload struct {
	Error string `json:"error"`
}

// MarshalJSON encodes lists as arrays, records as objects and errors as
// {"error": "..."}.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResultKindList:
		records := r.Records
		if records == nil {
			records = []CatalogRecord{}
		}
		return json.Marshal(records)
	case ResultKindRecord:
		return json.Marshal(r.Record)
	case ResultKindError:
		return json.Marshal(errorPayload{Error: r.Error})
	default:
		return nil, fmt.Errorf("unknown result kind %q", r.Kind)
	}
}

func (r *Result) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty result payload")
	}

	switch trimmed[0] {
	case '[':
		var records []CatalogRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return fmt.Errorf("decode result list: %w", err)
		}
		*r = ListResult(records)
		return nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return fmt.Errorf("decode result object: %w", err)
		}
		if raw, ok := fields["error"]; ok {
			var message string
			if err := json.Unmarshal(raw, &message); err != nil {
				return fmt.Errorf("decode result error: %w", err)
			}
			*r = ErrorResult(message)
			return nil
		}
		var record CatalogRecord
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return fmt.Errorf("decode result record: %w", err)
		}
		*r = RecordResult(record)
		return nil
	default:
		return fmt.Errorf("unsupported result payload %q", string(trimmed))
	}
}
