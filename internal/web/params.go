package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hoverfc/internal/config"
	"hoverfc/internal/control"
)

// ParamSource is the persisted tuning store (config.ParamStore).
type ParamSource interface {
	Current() control.Params
	Save(p config.ParamsConfig) error
}

var paramsPostKeys = map[string]struct{}{
	"rate":                 {},
	"attitude":             {},
	"head_velocity":        {},
	"max_angular_velocity": {},
	"thrust_weight_ratio":  {},
	"filter_attitude":      {},
	"filter_rate":          {},
	"attitude_d_blend":     {},
	"unreal_frame":         {},
	"reset_on_mode_switch": {},
}

// checkParamsKeys rejects duplicate, unknown or null top-level keys.
func checkParamsKeys(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("invalid json: expected object")
	}

	seen := make(map[string]struct{}, len(paramsPostKeys))
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return errors.New("invalid json: expected string key")
		}
		if _, ok := paramsPostKeys[key]; !ok {
			return fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid json: trailing data")
	}
	return nil
}

// mergeParams applies a partial JSON update on top of cur. Keys not present
// keep their current value.
func mergeParams(cur config.ParamsConfig, body []byte) (config.ParamsConfig, error) {
	if err := checkParamsKeys(body); err != nil {
		return cur, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cur); err != nil {
		return cur, fmt.Errorf("invalid json: %w", err)
	}
	if err := config.ValidateParams(&cur); err != nil {
		return cur, err
	}
	return cur, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// ParamsHandler serves GET (current tunables) and POST (partial update).
// A successful POST is saved to the config file and then passed to apply.
func ParamsHandler(src ParamSource, apply func(control.Params)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			http.Error(w, "params not available", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, config.ParamsFromControl(src.Current()))

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}

			next, err := mergeParams(config.ParamsFromControl(src.Current()), body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := src.Save(next); err != nil {
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			p := next.Control()
			if apply != nil {
				apply(p)
			}
			writeJSON(w, config.ParamsFromControl(p))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
