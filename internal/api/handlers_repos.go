package api

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/randalmurphal/orch/internal/assistant"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/project"
)

type reposResponse struct {
	Repos   []project.Repo    `json:"repos"`
	Mapping map[string]string `json:"mapping"`
}

// handleListRepos returns the scanned repositories and the effective mapping.
func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	resp := reposResponse{Repos: []project.Repo{}, Mapping: map[string]string{}}
	if s.registry != nil {
		if scanned := s.registry.Scanned(); scanned != nil {
			resp.Repos = scanned
		}
		resp.Mapping = s.registry.Mapping()
	}
	JSONResponse(w, resp)
}

type cloneRequest struct {
	CloneURL   string `json:"cloneUrl" validate:"required"`
	TargetName string `json:"targetName" validate:"required"`
}

// handleCloneRepo clones a repository into the base directory and rescans.
func (s *Server) handleCloneRepo(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	u, err := url.Parse(req.CloneURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "git") {
		HandleError(w, orcherrors.ErrInvalidRequest("invalid clone URL"))
		return
	}
	if strings.ContainsAny(req.TargetName, `/\`) || strings.Contains(req.TargetName, "..") {
		HandleError(w, orcherrors.ErrInvalidRequest("invalid target name"))
		return
	}
	if s.registry == nil {
		HandleError(w, orcherrors.ErrInvalidRequest("no repository base directory configured"))
		return
	}

	dir := filepath.Join(s.registry.BaseDir(), req.TargetName)
	if err := git.Clone(r.Context(), req.CloneURL, dir); err != nil {
		s.logger.Error("clone failed", "url", req.CloneURL, "dir", dir, "error", err)
		JSONResponseStatus(w, map[string]any{"success": false, "error": "Clone failed"}, http.StatusInternalServerError)
		return
	}
	if err := s.registry.Refresh(r.Context()); err != nil {
		s.logger.Warn("rescan after clone failed", "error", err)
	}
	JSONResponse(w, Message{Success: true})
}

// handleListTerminals reports which terminal emulators are installed.
func (s *Server) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	if s.terminals != nil {
		JSONResponse(w, s.terminals.Detect())
		return
	}
	JSONResponse(w, assistant.DetectTerminals())
}
