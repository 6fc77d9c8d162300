package frontdoor

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
)

// staticHandler serves one fixed file from the installation directory.
func (s *Server) staticHandler(name, contentType string) http.Handler {
	cacheControl := fmt.Sprintf("public, max-age=%d", int(s.cfg.StaticMaxAge.Seconds()))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(s.assets, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.Error(w, "File not found: "+name, http.StatusNotFound)
				return
			}
			s.logger.Error().Err(err).Str("file", name).Msg("error serving static file")
			http.Error(w, "Internal server error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", cacheControl)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
