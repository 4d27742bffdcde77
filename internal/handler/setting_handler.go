package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/response"
)

// PreferenceReader resolves the practice preferences in effect.
type PreferenceReader interface {
	Current(ctx context.Context) (model.PracticePreferences, error)
}

// SettingHandler exposes the resolved practice preferences read-only.
// The rows themselves are managed by the host application.
type SettingHandler struct {
	prefs PreferenceReader
}

func NewSettingHandler(prefs PreferenceReader) *SettingHandler {
	return &SettingHandler{prefs: prefs}
}

// GetPreferences godoc
// GET /api/v1/practice/preferences
func (h *SettingHandler) GetPreferences(c *gin.Context) {
	prefs, err := h.prefs.Current(c.Request.Context())
	if err != nil {
		// Current still returns usable defaults on a store error.
		response.Success(c, http.StatusOK, gin.H{"preferences": prefs, "defaults_only": true})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"preferences": prefs, "defaults_only": false})
}
