package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/model"
)

func settingsResponse(v model.Settings) SettingsResponse {
	return SettingsResponse{Object: "settings", Settings: v, Greedy: true}
}

func (s *Server) handleGetSettings(c *echo.Context) error {
	return c.JSON(http.StatusOK, settingsResponse(s.cfg.Settings.Get()))
}

// handleUpdateSettings applies the fields present in the body. Values are
// clamped to their ranges rather than rejected.
func (s *Server) handleUpdateSettings(c *echo.Context) error {
	req, err := decodeJSON[inference.SettingsOverride](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Empty() {
		return writeBadRequest(c, "no settings given")
	}
	v, err := s.cfg.Settings.Update(req)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, settingsResponse(v))
}

func (s *Server) handleResetSettings(c *echo.Context) error {
	v, err := s.cfg.Settings.Reset()
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, settingsResponse(v))
}
