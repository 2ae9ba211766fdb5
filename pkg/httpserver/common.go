package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/laoqin2024/LT-panle/pkg/secret"
	"github.com/laoqin2024/LT-panle/pkg/ssh"
	"github.com/laoqin2024/LT-panle/pkg/store"
)

type ErrResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(value); err != nil {
		logrus.Errorf("failed to encode json response: %v", err)
	}
}

// WriteError maps a domain error to a status code and sends it.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, statusForError(err), ErrResponse{Error: err.Error()})
}

// statusForError picks the response code for a failed operation. Bad
// records and bad credentials are the caller's fault; unreachable or
// misbehaving targets map onto the gateway codes.
func statusForError(err error) int {
	var authErr *ssh.AuthError

	switch {
	case errors.Is(err, store.ErrHostNotFound),
		errors.Is(err, store.ErrCredentialNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.As(err, &authErr),
		errors.Is(err, secret.ErrSecretUnavailable),
		errors.Is(err, secret.ErrSecretMalformed),
		errors.Is(err, secret.ErrKeyFileNotFound),
		errors.Is(err, secret.ErrDecryptFailed):
		return http.StatusBadRequest

	case errors.Is(err, ssh.ErrJumpHostNotImplemented):
		return http.StatusNotImplemented

	case errors.Is(err, ssh.ErrDialTimeout),
		errors.Is(err, ssh.ErrExecTimeout):
		return http.StatusGatewayTimeout

	case errors.Is(err, ssh.ErrDNSResolution),
		errors.Is(err, ssh.ErrHostUnreachable),
		errors.Is(err, ssh.ErrTransport):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
