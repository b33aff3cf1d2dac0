package gateway

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// writeErrorResponse writes an error in the same envelope the upstream API uses
func writeErrorResponse(w http.ResponseWriter, statusCode int, code string, message string) {
	body, err := json.Marshal(errorResponse{
		Success: false,
		Error:   errorBody{Code: code, Message: message},
	})
	if err != nil {
		body = []byte(`{"success":false,"error":{"code":"INTERNAL","message":"internal server error"}}`)
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}
