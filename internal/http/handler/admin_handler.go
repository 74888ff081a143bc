package handler

import (
	"net/http"

	"github.com/throttlecove/throttlecove/internal/http/response"
	"github.com/throttlecove/throttlecove/internal/observability"
	"github.com/throttlecove/throttlecove/internal/repository"
)

// AdminHandler hosts the operations gated behind the admin role.
type AdminHandler struct {
	sessions repository.SessionRepository
}

func NewAdminHandler(sessions repository.SessionRepository) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

// CleanupSessions purges expired session rows on demand, ahead of the
// periodic sweeper.
func (h *AdminHandler) CleanupSessions(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sessions.CleanupExpired()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	observability.Audit(r, "admin.sessions_cleanup", "removed", removed)
	response.JSON(w, r, http.StatusOK, map[string]int64{"removed": removed})
}
