package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeBody reads a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// statusOf maps agent and component errors onto HTTP status codes.
func statusOf(err error) int {
	var invalid *agent.InvalidTransitionError
	var httpErr *llmclient.HTTPError
	switch {
	case errors.Is(err, agent.ErrTaskActive), errors.As(err, &invalid):
		return http.StatusConflict
	case errors.Is(err, calibration.ErrROITooSmall), errors.Is(err, agent.ErrNoReference):
		return http.StatusBadRequest
	case errors.Is(err, calibration.ErrControllerConfigMissing):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrFocusLost):
		return http.StatusConflict
	case llmclient.IsRateLimited(err):
		return http.StatusTooManyRequests
	case errors.As(err, &httpErr), errors.Is(err, llmclient.ErrInvalidResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
