package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/http/middleware"
	"github.com/iago/consulta-async/internal/service"
)

const maxRequestBodyBytes = 1 << 16

var errInvalidPayload = errors.New("invalid payload")

// Pinger is satisfied by the ledger repository and every queue backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	queries  *service.QueriesService
	database Pinger
	broker   Pinger
	version  string
	logger   logrus.FieldLogger
}

type APIDependencies struct {
	Queries  *service.QueriesService
	Database Pinger
	Broker   Pinger
	Version  string
	Logger   logrus.FieldLogger
}

func NewAPI(deps APIDependencies) *API {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	version := deps.Version
	if version == "" {
		version = "1.0.0"
	}
	return &API{
		queries:  deps.Queries,
		database: deps.Database,
		broker:   deps.Broker,
		version:  version,
		logger:   logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func (api *API) requestLogger(r *http.Request) logrus.FieldLogger {
	return api.logger.WithField("request_id", middleware.GetRequestID(r.Context()))
}
