package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/haleyard/recall/plugin/memory"
	"github.com/haleyard/recall/plugin/memory/assembler"
	"github.com/haleyard/recall/store"
)

type sessionResponse struct {
	UID                  string `json:"uid"`
	ContactRef           string `json:"contactRef"`
	Channel              string `json:"channel"`
	LastMessageAt        int64  `json:"lastMessageAt"`
	CurrentSummary       string `json:"currentSummary,omitempty"`
	MessagesSinceSummary int32  `json:"messagesSinceSummary"`
	IsReactivation       bool   `json:"isReactivation"`
}

func toSessionResponse(session *store.Session) *sessionResponse {
	return &sessionResponse{
		UID:                  session.UID,
		ContactRef:           session.ContactRef,
		Channel:              session.Channel,
		LastMessageAt:        session.LastMessageAt,
		CurrentSummary:       session.CurrentSummary,
		MessagesSinceSummary: session.MessagesSinceSummary,
		IsReactivation:       session.IsReactivation,
	}
}

type recordTurnRequest struct {
	ContactRef string `json:"contactRef"`
	Channel    string `json:"channel"`
	Role       string `json:"role"`
	Text       string `json:"text"`
}

type recordTurnResponse struct {
	Session *sessionResponse `json:"session"`
	TurnID  int32            `json:"turnId"`
}

func (s *APIV1Service) recordTurn(c echo.Context) error {
	var req recordTurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	session, turn, err := s.Memory.RecordTurn(c.Request().Context(), &memory.RecordTurnRequest{
		ContactRef: req.ContactRef,
		Channel:    req.Channel,
		Role:       store.TurnRole(req.Role),
		Text:       req.Text,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, &recordTurnResponse{
		Session: toSessionResponse(session),
		TurnID:  turn.ID,
	})
}

func (s *APIV1Service) getSession(c echo.Context) error {
	session, err := s.Store.GetSessionByUID(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get session")
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

type assembleContextRequest struct {
	MaxTokens int `json:"maxTokens"`
}

type assembleContextResponse struct {
	Text           string   `json:"text"`
	TokensEstimate int      `json:"tokensEstimate"`
	LayersIncluded []string `json:"layersIncluded"`
}

func (s *APIV1Service) assembleContext(c echo.Context) error {
	ctx := c.Request().Context()
	session, err := s.Store.GetSessionByUID(ctx, c.Param("uid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get session")
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	var req assembleContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	result, err := s.Memory.Assemble(ctx, session.ID, req.MaxTokens)
	if err != nil {
		if errors.Is(err, assembler.ErrBudgetTooSmall) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to assemble context")
	}

	layers := make([]string, len(result.LayersIncluded))
	for i, layer := range result.LayersIncluded {
		layers[i] = string(layer)
	}
	return c.JSON(http.StatusOK, &assembleContextResponse{
		Text:           result.Text,
		TokensEstimate: result.TokensEstimate,
		LayersIncluded: layers,
	})
}
