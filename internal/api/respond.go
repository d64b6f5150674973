package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
)

// maxBodyBytes bounds request bodies; observations carry tool output.
const maxBodyBytes = 4 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps an error kind to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := memerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case memerr.KindNotFound:
		status = http.StatusNotFound
	case memerr.KindInvalid:
		status = http.StatusBadRequest
	case memerr.KindUnavailable, memerr.KindTransientIO:
		status = http.StatusServiceUnavailable
	}
	resp := errorResponse{Error: err.Error()}
	if kind != memerr.KindUnknown {
		resp.Kind = kind.String()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty body")
		}
		return err
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
