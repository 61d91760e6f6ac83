package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/upload"
)

type uploadsEndpoint struct {
	server *Server
}

func newUploadsEndpoint(server *Server) protocol.Endpoint {
	return &uploadsEndpoint{server: server}
}

func (e *uploadsEndpoint) Name() string { return "uploads" }

func (e *uploadsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/api/v1/uploads", Handler: http.HandlerFunc(e.server.HandleUpload)},
	}
}

// HandleUpload stores a raw image body. The declared Content-Type and the sniffed
// content must both be PNG or JPEG and the body must fit the configured limit.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.uploads.Limit()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.uploads.Accept(r.Context(), r.Header.Get("Content-Type"), data)
	if err != nil {
		var verr *upload.ValidationError
		if errors.As(err, &verr) {
			s.debugf("upload rejected: %s", verr.Message)
			s.respondError(w, http.StatusBadRequest, verr)
			return
		}
		s.logger.Printf("upload failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, errors.New("could not store upload"))
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

type filesEndpoint struct {
	dir string
}

func newFilesEndpoint(dir string) protocol.Endpoint {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return filesEndpoint{dir: dir}
}

func (filesEndpoint) Name() string { return "files" }

func (e filesEndpoint) Routes() []protocol.EndpointRoute {
	files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(e.dir)))
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/uploads/*", Handler: files, Public: true},
	}
}
