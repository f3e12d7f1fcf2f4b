package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
)

// maxBodyBytes bounds request bodies on both surfaces.
const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger log.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(map[string]any{"error": err.Error()}, "Error encoding JSON response")
	}
}

func writeError(w http.ResponseWriter, logger log.Logger, code int, msg string) {
	writeJSON(w, logger, code, errorResponse{Error: msg})
}

// decodeRequest fills dst from a JSON body, or from form and query values
// when the request is not JSON. form maps value names onto setters.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any, form map[string]func(string)) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if isJSON(r) {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("malformed JSON body: %w", err)
		}
		if dec.More() {
			return errors.New("malformed JSON body: trailing data")
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("malformed form body: %w", err)
	}
	for name, set := range form {
		if v := r.Form.Get(name); v != "" {
			set(v)
		}
	}
	return nil
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return r.ContentLength > 0
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}

// intParam parses a non-negative integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}
