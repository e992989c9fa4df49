package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/haleyard/recall/plugin/memory/extraction"
	"github.com/haleyard/recall/store"
)

type consentResponse struct {
	UID        string  `json:"uid"`
	ContactRef string  `json:"contactRef"`
	Status     string  `json:"status"`
	FactType   string  `json:"factType"`
	Category   string  `json:"category"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	SourceText string  `json:"sourceText,omitempty"`
	CreatedTs  int64   `json:"createdTs"`
}

func toConsentResponse(consent *store.MemoryConsent) *consentResponse {
	return &consentResponse{
		UID:        consent.UID,
		ContactRef: consent.ContactRef,
		Status:     string(consent.Status),
		FactType:   consent.FactType,
		Category:   consent.Category,
		Value:      consent.Value,
		Confidence: consent.Confidence,
		SourceText: consent.SourceText,
		CreatedTs:  consent.CreatedTs,
	}
}

func (s *APIV1Service) listConsents(c echo.Context) error {
	find := &store.FindMemoryConsent{Limit: 100}
	if v := c.QueryParam("contactRef"); v != "" {
		find.ContactRef = &v
	}
	if v := c.QueryParam("status"); v != "" {
		status := store.ConsentStatus(strings.ToUpper(v))
		find.Status = &status
	}

	consents, err := s.Store.ListMemoryConsents(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list consents")
	}
	response := make([]*consentResponse, len(consents))
	for i, consent := range consents {
		response[i] = toConsentResponse(consent)
	}
	return c.JSON(http.StatusOK, response)
}

type resolveConsentRequest struct {
	Accepted bool `json:"accepted"`
}

func (s *APIV1Service) resolveConsent(c echo.Context) error {
	var req resolveConsentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	consent, err := s.Memory.ResolveConsent(c.Request().Context(), c.Param("uid"), req.Accepted)
	if err != nil {
		if errors.Is(err, extraction.ErrConsentNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve consent")
	}
	return c.JSON(http.StatusOK, toConsentResponse(consent))
}

type contactMemoryResponse struct {
	ContactRef          string            `json:"contactRef"`
	Preferences         map[string]string `json:"preferences,omitempty"`
	PainPoints          []string          `json:"painPoints,omitempty"`
	ObjectionsAddressed []store.Objection `json:"objectionsAddressed,omitempty"`
	ProductsDiscussed   []string          `json:"productsDiscussed,omitempty"`
	CurrentStage        string            `json:"currentStage,omitempty"`
	NextStep            string            `json:"nextStep,omitempty"`
	LastExtractedAt     int64             `json:"lastExtractedAt,omitempty"`
	ExtractionCount     int32             `json:"extractionCount"`
}

func (s *APIV1Service) getContactMemory(c echo.Context) error {
	profile, err := s.Store.GetContactMemory(c.Request().Context(), &store.FindContactMemory{
		ContactRef: c.Param("ref"),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get contact memory")
	}
	if profile == nil {
		return echo.NewHTTPError(http.StatusNotFound, "contact memory not found")
	}

	return c.JSON(http.StatusOK, &contactMemoryResponse{
		ContactRef:          profile.ContactRef,
		Preferences:         profile.Preferences,
		PainPoints:          profile.PainPoints,
		ObjectionsAddressed: profile.ObjectionsAddressed,
		ProductsDiscussed:   profile.ProductsDiscussed,
		CurrentStage:        string(profile.CurrentStage),
		NextStep:            profile.NextStep,
		LastExtractedAt:     profile.LastExtractedAt,
		ExtractionCount:     profile.ExtractionCount,
	})
}
