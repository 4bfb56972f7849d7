package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

type AboutResponse struct {
	Service   string `json:"service"`
	RunID     string `json:"run_id"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	// Deps lists module dependencies as path@version.
	Deps []string `json:"deps,omitempty"`
}

func buildAbout(runID string) AboutResponse {
	resp := AboutResponse{
		Service:   serviceName,
		RunID:     runID,
		NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return resp
	}
	resp.Module = bi.Main.Path
	resp.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			resp.Commit = s.Value
		case "vcs.modified":
			resp.Dirty = s.Value == "true"
		}
	}
	for _, d := range bi.Deps {
		resp.Deps = append(resp.Deps, d.Path+"@"+d.Version)
	}
	return resp
}

func AboutHandler(runID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, buildAbout(runID))
	})
}
