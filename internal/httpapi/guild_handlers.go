package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"concord.chat/internal/leaderboard"
	"concord.chat/internal/perm"
	"concord.chat/internal/store"
)

func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if a.deps.Leaderboard == nil {
		unavailable(w, r, "leaderboard")
		return
	}
	q := r.URL.Query()
	t, err := leaderboard.ParseType(q.Get("type"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1_000_000, "page")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveInt(q.Get("size"), 0, 1, leaderboard.MaxPageSize, "size")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	refresh, _ := strconv.ParseBool(q.Get("refresh"))

	pg, err := a.deps.Leaderboard.GetPage(r.Context(), leaderboard.Query{
		GuildID:      r.PathValue("guild"),
		Type:         t,
		Page:         page,
		PageSize:     size,
		ForceRefresh: refresh,
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pg)
}

func (a *API) handleLeaderboardInvalidate(w http.ResponseWriter, r *http.Request) {
	if a.deps.Leaderboard == nil {
		unavailable(w, r, "leaderboard")
		return
	}
	a.deps.Leaderboard.InvalidateGuild(r.PathValue("guild"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRank(w http.ResponseWriter, r *http.Request) {
	if a.deps.Leaderboard == nil {
		unavailable(w, r, "leaderboard")
		return
	}
	rk, err := a.deps.Leaderboard.UserRank(r.Context(), r.PathValue("guild"), r.PathValue("user"))
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rk)
}

type accessResponse struct {
	GuildID    string   `json:"guild_id"`
	UserID     string   `json:"user_id"`
	Command    string   `json:"command"`
	Allowed    bool     `json:"allowed"`
	Restricted bool     `json:"restricted"`
	Required   []string `json:"required"`
	Matched    string   `json:"matched,omitempty"`
}

func (a *API) handleAccess(w http.ResponseWriter, r *http.Request) {
	if a.deps.Access == nil {
		unavailable(w, r, "access resolver")
		return
	}
	command := perm.Normalize(r.URL.Query().Get("command"))
	if command == "" {
		writeError(w, r, http.StatusBadRequest, errMissingParam.Error()+": command")
		return
	}
	guildID, userID := r.PathValue("guild"), r.PathValue("user")
	d, err := a.deps.Access.Check(r.Context(), guildID, userID, command)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	required := d.Required
	if required == nil {
		required = []string{}
	}
	writeJSON(w, http.StatusOK, accessResponse{
		GuildID:    guildID,
		UserID:     userID,
		Command:    command,
		Allowed:    d.Allowed,
		Restricted: d.Restricted,
		Required:   required,
		Matched:    d.Matched,
	})
}

func parsePositiveInt(raw string, def, min, max int, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New(name + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func (a *API) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var pageErr *leaderboard.PageOutOfRangeError
	switch {
	case errors.As(err, &pageErr):
		payload := map[string]any{
			"error":       err.Error(),
			"page":        pageErr.Page,
			"total_pages": pageErr.TotalPages,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusNotFound, payload)
	case errors.Is(err, leaderboard.ErrInvalidInput), errors.Is(err, perm.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, leaderboard.ErrNotFound), errors.Is(err, perm.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		a.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
