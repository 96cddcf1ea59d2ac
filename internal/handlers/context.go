package handlers

import (
	"net/http"
	"strconv"

	"github.com/jobtrace/jobtrace-api/internal/query"
)

// listOptions reads limit/offset/skipCache query params with defaults; the
// query service does the clamping.
func listOptions(r *http.Request) query.Options {
	opts := query.Options{}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			opts.Limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil {
			opts.Offset = v
		}
	}
	opts.SkipCache = skipCache(r)
	return opts
}

// skipCache reads the cache-bypass flag callers set after a mutation.
func skipCache(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("skipCache"))
	return err == nil && v
}

func intParam(r *http.Request, name, fallbackName string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" && fallbackName != "" {
		raw = r.URL.Query().Get(fallbackName)
	}
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
