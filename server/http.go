package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"whiteboard/transport"
)

type healthResponse struct {
	Status       string `json:"status"`
	Sessions     int    `json:"sessions"`
	Participants int    `json:"participants"`
}

// routes builds the admin endpoint: health, roster and the websocket transport.
func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := s.logger.WithFields(logrus.Fields{
				"method": v.Method,
				"uri":    v.URI,
				"status": v.Status,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("http request failed")
			} else {
				entry.Debug("http request")
			}
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/participants", s.handleParticipants)
	e.GET(transport.WebsocketPath, s.handleWebsocket)
	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	sessions, err := s.hub.Sessions()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "stopping"})
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:       "ok",
		Sessions:     len(sessions),
		Participants: s.roster.Len(),
	})
}

func (s *Server) handleParticipants(c echo.Context) error {
	return c.JSON(http.StatusOK, s.roster.List())
}

func (s *Server) handleWebsocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	s.accept(transport.NewWebsocketConn(ws, s.connOptions()))
	return nil
}
