package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/smartia-br/consultaflow/internal/models"
)

// errorFallbackJSON is marshaled once at startup so a failed response
// encoding can still answer with valid JSON.
var errorFallbackJSON = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("api: failed to marshal fallback response: " + err.Error())
	}
	return data
}

// writeJSONResponse marshals response and writes it with the given status
// code. Marshaling happens before any header is written so an encoding error
// can still be reported as a 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		body = errorFallbackJSON
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}
