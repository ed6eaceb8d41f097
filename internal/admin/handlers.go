package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/storage/postgres"
)

// Pagination bounds for list endpoints.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type questionRequest struct {
	Title   string          `json:"title"`
	Answers []answerPayload `json:"answers"`
}

type answerPayload struct {
	Title string `json:"title"`
	Score int    `json:"score"`
}

func (q questionRequest) answers() []game.Answer {
	answers := make([]game.Answer, 0, len(q.Answers))
	for _, a := range q.Answers {
		answers = append(answers, game.Answer{Title: a.Title, Score: a.Score})
	}
	return answers
}

func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	q, err := s.questions.Create(r.Context(), req.Title, req.answers())
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrWrongAnswerCount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, postgres.ErrQuestionExists):
			writeError(w, http.StatusConflict, "question already exists")
		default:
			s.logger.Error("creating question", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	q, err := s.questions.Update(r.Context(), game.Question{
		ID:      id,
		Title:   req.Title,
		Answers: req.answers(),
	})
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrWrongAnswerCount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, game.ErrQuestionNotFound):
			writeError(w, http.StatusNotFound, "question not found")
		case errors.Is(err, postgres.ErrQuestionExists):
			writeError(w, http.StatusConflict, "question title already taken")
		default:
			s.logger.Error("updating question", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	questions, err := s.questions.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("listing questions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(questions))
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	sessions, err := s.reports.ListSessions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("listing games", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(sessions))
}

func (s *Server) handleListStandings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	standings, err := s.reports.ListStandings(r.Context(), id)
	if err != nil {
		s.logger.Error("listing standings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(standings))
}

func (s *Server) handleListRoadmap(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	entries, err := s.reports.ListRoadmap(r.Context(), id)
	if err != nil {
		s.logger.Error("listing roadmap", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(entries))
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	players, err := s.players.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("listing players", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(players))
}

// pagination extracts limit/offset query parameters, clamped to sane
// bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// orEmpty keeps list responses as [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
