package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nstogner/datachat/pkg/store"
)

const maxUploadSize = 256 << 20

// --- Datasets ---

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	s.jsonResponse(w, http.StatusOK, names)
}

func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("reading upload: %w", err))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid file name %q", header.Filename))
		return
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	dst, err := os.Create(filepath.Join(s.dataDir, name))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]string{"name": name})
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.runner.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []store.Summary{}
	}
	s.jsonResponse(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dataset string `json:"dataset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Dataset == "" || filepath.Base(req.Dataset) != req.Dataset {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid dataset %q", req.Dataset))
		return
	}
	if _, err := os.Stat(filepath.Join(s.dataDir, req.Dataset)); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("dataset %q not found", req.Dataset))
		return
	}

	tok, err := s.runner.Create(r.Context(), req.Dataset)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]string{"token": string(tok)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.runner.Load(r.Context(), store.Token(r.PathValue("token")))
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, state)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.runner.Artifact(store.Token(r.PathValue("token")), r.PathValue("name"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	http.ServeFile(w, r, a.Path)
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
