package api

import (
	"net/http"

	"github.com/david/recovery-match/internal/auth"
	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/workflow"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type applyRequest struct {
	SurvivorID string `json:"survivor_id"`
	Notes      string `json:"notes"`
}

type awardRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Notes  string           `json:"notes"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type statusRequest struct {
	Status models.MatchStatus `json:"status"`
	Notes  string             `json:"notes"`
}

// pairParams reads the actor and the opportunity/survivor pair from the route.
func pairParams(c echo.Context) (actorID, opportunityID, survivorID uuid.UUID, err error) {
	if actorID, err = auth.ActorID(c); err != nil {
		return
	}
	if opportunityID, err = workflow.ParseID("opportunity", c.Param("opportunityId")); err != nil {
		return
	}
	survivorID, err = workflow.ParseID("survivor", c.Param("survivorId"))
	return
}

func (s *Server) handleApply(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return writeError(c, err)
	}
	opportunityID, err := workflow.ParseID("opportunity", c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	var req applyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	// Survivors applying for themselves may omit survivor_id.
	survivorID := actorID
	if req.SurvivorID != "" {
		if survivorID, err = workflow.ParseID("survivor", req.SurvivorID); err != nil {
			return writeError(c, err)
		}
	}

	m, err := s.controller.Apply(c.Request().Context(), workflow.ApplyInput{
		OpportunityID: opportunityID,
		SurvivorID:    survivorID,
		ActorID:       actorID,
		Notes:         req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleAward(c echo.Context) error {
	actorID, opportunityID, survivorID, err := pairParams(c)
	if err != nil {
		return writeError(c, err)
	}
	var req awardRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Amount == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "amount is required"})
	}

	m, err := s.controller.Award(c.Request().Context(), workflow.AwardInput{
		OpportunityID: opportunityID,
		SurvivorID:    survivorID,
		ActorID:       actorID,
		Amount:        *req.Amount,
		Notes:         req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleFund(c echo.Context) error {
	actorID, opportunityID, survivorID, err := pairParams(c)
	if err != nil {
		return writeError(c, err)
	}
	var req notesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	m, err := s.controller.Fund(c.Request().Context(), workflow.FundInput{
		OpportunityID: opportunityID,
		SurvivorID:    survivorID,
		ActorID:       actorID,
		Notes:         req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleReject(c echo.Context) error {
	actorID, opportunityID, survivorID, err := pairParams(c)
	if err != nil {
		return writeError(c, err)
	}
	var req notesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	m, err := s.controller.Reject(c.Request().Context(), workflow.RejectInput{
		OpportunityID: opportunityID,
		SurvivorID:    survivorID,
		ActorID:       actorID,
		Notes:         req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleUpdateStatus(c echo.Context) error {
	actorID, opportunityID, survivorID, err := pairParams(c)
	if err != nil {
		return writeError(c, err)
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	m, err := s.controller.UpdateStatus(c.Request().Context(), workflow.UpdateStatusInput{
		OpportunityID: opportunityID,
		SurvivorID:    survivorID,
		ActorID:       actorID,
		Status:        req.Status,
		Notes:         req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleGetMatch(c echo.Context) error {
	actorID, opportunityID, survivorID, err := pairParams(c)
	if err != nil {
		return writeError(c, err)
	}
	m, err := s.controller.GetMatch(c.Request().Context(), actorID, opportunityID, survivorID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleListOpportunityMatches(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return writeError(c, err)
	}
	opportunityID, err := workflow.ParseID("opportunity", c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	matches, err := s.controller.ListForOpportunity(c.Request().Context(), actorID, opportunityID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(matches))
}

func (s *Server) handleListSurvivorMatches(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return writeError(c, err)
	}
	survivorID, err := workflow.ParseID("survivor", c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	matches, err := s.controller.ListForSurvivor(c.Request().Context(), actorID, survivorID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(matches))
}

func nonNil(ms []models.Match) []models.Match {
	if ms == nil {
		return []models.Match{}
	}
	return ms
}
