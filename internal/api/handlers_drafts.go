package api

import (
	"net/http"
	"time"
)

type reviewRequest struct {
	FinalText string `json:"final_text"`
	Reason    string `json:"reason"`
	At        string `json:"at"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	draftID, err := pathID(r, "draft")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid draft id")
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	draft, err := s.review.Approve(r.Context(), draftID, req.FinalText)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fromDraft(draft))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	draftID, err := pathID(r, "draft")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid draft id")
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	draft, err := s.review.Reject(r.Context(), draftID, req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fromDraft(draft))
}

func (s *Server) handleTrueReject(w http.ResponseWriter, r *http.Request) {
	draftID, err := pathID(r, "draft")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid draft id")
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tweet, err := s.review.TrueReject(r.Context(), draftID, req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fromTweet(tweet, nil))
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	draftID, err := pathID(r, "draft")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid draft id")
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at, err := time.Parse(time.RFC3339, req.At)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "at must be RFC3339")
		return
	}
	draft, intent, err := s.review.Schedule(r.Context(), draftID, at, req.FinalText)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"draft":       fromDraft(draft),
		"intent_id":   intent.ID,
		"target_time": wireTime(intent.TargetTime),
	})
}
