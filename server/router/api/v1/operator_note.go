package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/haleyard/recall/store"
)

type noteResponse struct {
	UID        string `json:"uid"`
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Category   string `json:"category"`
	Content    string `json:"content"`
	Priority   string `json:"priority"`
	Pinned     bool   `json:"pinned"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
	CreatedTs  int64  `json:"createdTs"`
}

func toNoteResponse(note *store.OperatorNote) *noteResponse {
	return &noteResponse{
		UID:        note.UID,
		TargetType: string(note.TargetType),
		TargetID:   note.TargetID,
		Category:   string(note.Category),
		Content:    note.Content,
		Priority:   string(note.Priority),
		Pinned:     note.Pinned,
		ExpiresAt:  note.ExpiresAt,
		CreatedTs:  note.CreatedTs,
	}
}

type createNoteRequest struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Category   string `json:"category"`
	Content    string `json:"content"`
	Priority   string `json:"priority"`
	Pinned     bool   `json:"pinned"`
	ExpiresAt  int64  `json:"expiresAt"`
}

func (s *APIV1Service) createNote(c echo.Context) error {
	var req createNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	targetType := store.NoteTargetType(req.TargetType)
	if targetType != store.NoteTargetSession && targetType != store.NoteTargetContact {
		return echo.NewHTTPError(http.StatusBadRequest, "targetType must be SESSION or CONTACT")
	}
	if req.TargetID == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "targetId and content are required")
	}
	priority := store.NotePriority(req.Priority)
	if priority == "" {
		priority = store.NotePriorityMedium
	}

	note, err := s.Store.CreateOperatorNote(c.Request().Context(), &store.OperatorNote{
		UID:        shortuuid.New(),
		TargetType: targetType,
		TargetID:   req.TargetID,
		Category:   store.NoteCategory(req.Category),
		Content:    req.Content,
		Priority:   priority,
		Pinned:     req.Pinned,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create note")
	}
	return c.JSON(http.StatusOK, toNoteResponse(note))
}

func (s *APIV1Service) listNotes(c echo.Context) error {
	find := &store.FindOperatorNote{}
	if v := c.QueryParam("targetType"); v != "" {
		targetType := store.NoteTargetType(v)
		find.TargetType = &targetType
	}
	if v := c.QueryParam("targetId"); v != "" {
		find.TargetID = &v
	}
	if c.QueryParam("pinned") == "true" {
		pinned := true
		find.Pinned = &pinned
	}

	notes, err := s.Store.ListOperatorNotes(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list notes")
	}
	response := make([]*noteResponse, len(notes))
	for i, note := range notes {
		response[i] = toNoteResponse(note)
	}
	return c.JSON(http.StatusOK, response)
}

type updateNoteRequest struct {
	Content   *string `json:"content"`
	Category  *string `json:"category"`
	Priority  *string `json:"priority"`
	Pinned    *bool   `json:"pinned"`
	ExpiresAt *int64  `json:"expiresAt"`
}

func (s *APIV1Service) updateNote(c echo.Context) error {
	ctx := c.Request().Context()
	note, err := s.findNoteByUID(c)
	if err != nil {
		return err
	}

	var req updateNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	now := time.Now().Unix()
	update := &store.UpdateOperatorNote{ID: note.ID, UpdatedTs: &now}
	update.Content = req.Content
	if req.Category != nil {
		category := store.NoteCategory(*req.Category)
		update.Category = &category
	}
	if req.Priority != nil {
		priority := store.NotePriority(*req.Priority)
		update.Priority = &priority
	}
	update.Pinned = req.Pinned
	update.ExpiresAt = req.ExpiresAt

	updated, err := s.Store.UpdateOperatorNote(ctx, update)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update note")
	}
	return c.JSON(http.StatusOK, toNoteResponse(updated))
}

func (s *APIV1Service) deleteNote(c echo.Context) error {
	note, err := s.findNoteByUID(c)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteOperatorNote(c.Request().Context(), &store.DeleteOperatorNote{ID: note.ID}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete note")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) findNoteByUID(c echo.Context) (*store.OperatorNote, error) {
	uid := c.Param("uid")
	notes, err := s.Store.ListOperatorNotes(c.Request().Context(), &store.FindOperatorNote{UID: &uid})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to find note")
	}
	if len(notes) == 0 {
		return nil, echo.NewHTTPError(http.StatusNotFound, "note not found")
	}
	return notes[0], nil
}
