package api

import (
	"io"
	"net/http"
	"strings"

	"soundbite/internal/pipeline"
	"soundbite/internal/store"
)

type createEpisodeRequest struct {
	Title   string `json:"title"`
	Variant string `json:"variant"`
}

func (s *Server) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	var req createEpisodeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	episode, err := s.store.CreateEpisode(r.Context(), req.Title, req.Variant)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit(r.Context(), "episode_created", "episode", episode.ID, episode.Title)
	s.writeJSON(w, http.StatusCreated, fromEpisode(episode))
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.store.ListEpisodes(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]EpisodeView, 0, len(episodes))
	for _, e := range episodes {
		views = append(views, fromEpisode(e))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"episodes": views})
}

// handleUploadTranscript accepts the raw transcript text as the request body
// and registers its fingerprint, making the episode runnable.
func (s *Server) handleUploadTranscript(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	ctx := r.Context()
	episode, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		s.writeError(w, http.StatusBadRequest, "transcript body is empty")
		return
	}

	fp, err := pipeline.WriteArtifact(s.cfg, episodeID, pipeline.ArtifactTranscript, body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.store.UpsertFingerprint(ctx, fp); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if episode.Status == store.EpisodeNoInput {
		if err := s.store.SetEpisodeStatus(ctx, episodeID, store.EpisodeReady); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	s.audit(ctx, "transcript_uploaded", "episode", episodeID, fp.Hash)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"artifact": pipeline.ArtifactTranscript,
		"hash":     fp.Hash,
		"size":     fp.Size,
	})
}

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	enabledOnly := r.URL.Query().Get("enabled") == "1"
	keywords, err := s.store.Keywords(r.Context(), episodeID, enabledOnly)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]KeywordView, 0, len(keywords))
	for _, kw := range keywords {
		views = append(views, fromKeyword(kw))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"keywords": views})
}

type upsertKeywordRequest struct {
	Term     string  `json:"term"`
	Weight   float64 `json:"weight"`
	Enabled  *bool   `json:"enabled"`
	Position int     `json:"position"`
}

func (s *Server) handleUpsertKeyword(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	var req upsertKeywordRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Term) == "" {
		s.writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := s.store.UpsertKeyword(r.Context(), episodeID, req.Term, req.Weight, enabled, req.Position); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit(r.Context(), "keyword_upserted", "episode", episodeID, strings.TrimSpace(req.Term))
	s.writeJSON(w, http.StatusOK, map[string]string{"term": strings.TrimSpace(req.Term)})
}
