package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/buenedata/plugin-update-server/internal/auth"
	"github.com/buenedata/plugin-update-server/internal/fetch"
	"github.com/buenedata/plugin-update-server/internal/publisher"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/go-chi/chi/v5"
)

const releaseNotesWords = 30

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	res := make([]string, 0)
	for _, p := range s.publisher.Plugins() {
		res = append(res, p.Slug())
	}
	s.writeJSON(w, res)
}

func (s *Server) updateCheck(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pluginFromRequest(w, r)
	if !ok {
		return
	}
	decision, err := s.publisher.Evaluate(r.Context(), p, r.URL.Query().Get("version"))
	if err != nil {
		s.writeJSONError(w, r, http.StatusNotFound, err, "no release found")
		return
	}
	res := &release.UpdateCheckResponse{
		Plugin:         p.Slug(),
		CurrentVersion: decision.CurrentVersion,
		LatestVersion:  decision.LatestVersion,
		Available:      decision.Available,
		ReleaseNotes:   decision.Release.Notes,
		PublishedAt:    decision.Release.PublishedAt,
	}
	if decision.Available {
		downloadURL := s.publisher.PackageURL(p, decision.Release)
		res.DownloadURL = &downloadURL
	}
	s.writeJSON(w, res)
}

func (s *Server) pluginInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pluginFromRequest(w, r)
	if !ok {
		return
	}
	info, err := s.publisher.PluginInfo(r.Context(), p)
	if err != nil {
		s.writeJSONError(w, r, http.StatusNotFound, err, "no release found")
		return
	}
	s.writeJSON(w, info)
}

func (s *Server) checkNow(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pluginFromRequest(w, r)
	if !ok {
		return
	}

	if !s.checkSemaphore.TryAcquire(1) {
		s.writeJSONError(w, r, http.StatusTooManyRequests, fmt.Errorf("too many concurrent checks"), "could not acquire semaphore")
		return
	}
	defer s.checkSemaphore.Release(1)

	s.requestLogger(r).Infof("manual update check for %s", p.Basename)
	decision, err := s.publisher.CheckNow(r.Context(), p)
	if err != nil {
		var fErr *fetch.Error
		if errors.As(err, &fErr) {
			s.writeJSONError(w, r, http.StatusBadGateway, err, fErr.Message())
			return
		}
		s.writeJSONError(w, r, http.StatusBadGateway, err, "could not check for updates")
		return
	}
	s.writeJSON(w, &release.ManualCheckResponse{
		CurrentVersion: decision.CurrentVersion,
		LatestVersion:  decision.LatestVersion,
		Available:      decision.Available,
		PluginName:     p.Name,
		ReleaseDate:    decision.Release.PublishedAt,
		ReleaseNotes:   publisher.TrimWords(decision.Release.Notes, releaseNotesWords),
		DownloadURL:    decision.Release.HTMLURL,
		Notice:         publisher.UpdateNotice(p, decision),
	})
}

func (s *Server) downloadPackage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pluginFromRequest(w, r)
	if !ok {
		return
	}
	// the path segment is the release tag; the mirror is keyed by the normalized version
	tag := strings.TrimSpace(chi.URLParam(r, "version"))
	version := release.NormalizeVersion(tag)
	if version == "" {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("version is missing"))
		return
	}

	sourceURL := fetch.PackageURL(p.Owner, p.Repo, tag)
	if latest, err := s.publisher.Release(r.Context(), p); err == nil && latest.Version == version {
		sourceURL = latest.AssetURL
	}
	if s.mirror == nil {
		http.Redirect(w, r, sourceURL, http.StatusFound)
		return
	}

	mirrorURL, err := s.mirror.Ensure(r.Context(), p, version, sourceURL)
	if err != nil {
		s.writeJSONError(w, r, http.StatusBadGateway, err, "could not mirror package")
		return
	}
	http.Redirect(w, r, mirrorURL, http.StatusFound)
}

func (s *Server) getUpdates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.publisher.Registry().Snapshot())
}

func (s *Server) refreshUpdates(w http.ResponseWriter, r *http.Request) {
	err := s.checkSemaphore.Acquire(r.Context(), 1)
	if err != nil {
		s.writeJSONError(w, r, http.StatusTooManyRequests, err, "could not acquire semaphore")
		return
	}
	defer s.checkSemaphore.Release(1)

	s.requestLogger(r).Info("refreshing all plugins...")
	s.writeJSON(w, s.publisher.RefreshAll(r.Context()))
}

func (s *Server) invalidatePlugin(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pluginFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.publisher.Invalidate(r.Context(), p.Owner, p.Repo); err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not invalidate cache")
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) issueNonce(w http.ResponseWriter, r *http.Request) {
	// limit request body to 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	nonceRequest := new(release.NonceRequest)
	if err := json.NewDecoder(r.Body).Decode(nonceRequest); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err, "could not decode request")
		return
	}
	if nonceRequest.Action == "" {
		nonceRequest.Action = auth.ActionCheckUpdates
	}
	nonce, expiresAt, err := auth.IssueNonce([]byte(s.config.NonceSecret), nonceRequest.Action, nonceRequest.User, nonceRequest.Capabilities, s.config.NonceTTL)
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not issue nonce")
		return
	}
	s.writeJSON(w, &release.NonceResponse{Nonce: nonce, ExpiresAt: expiresAt})
}
