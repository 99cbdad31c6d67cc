package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewchain/internal/api/auth"
	"github.com/reviewchain/internal/chain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

type createChainRequest struct {
	ActivityID     string     `json:"activityId"`
	ParticipantIDs []string   `json:"participantIds"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

type recordReviewRequest struct {
	ReviewerID string `json:"reviewerId"`
}

type chainResponse struct {
	ID             string             `json:"id"`
	ActivityID     string             `json:"activityId"`
	UserSequence   []string           `json:"userSequence"`
	Status         chain.Status       `json:"status"`
	TriggerTime    time.Time          `json:"triggerTime"`
	ExpireTime     time.Time          `json:"expireTime"`
	ActivatedAt    *time.Time         `json:"activatedAt,omitempty"`
	FinishedAt     *time.Time         `json:"finishedAt,omitempty"`
	CompletedCount int                `json:"completedCount"`
	TotalCount     int                `json:"totalCount"`
	Assignments    []chain.Assignment `json:"assignments"`
	Completions    []chain.Completion `json:"completions"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

type chainListResponse struct {
	Chains []chainResponse `json:"chains"`
	Count  int             `json:"count"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields chain.FieldErrors `json:"fields,omitempty"`
}

func toChainResponse(c *chain.ReviewChain) chainResponse {
	resp := chainResponse{
		ID:             c.ID,
		ActivityID:     c.ActivityID,
		UserSequence:   c.UserSequence,
		Status:         c.Status(),
		TriggerTime:    c.TriggerTime,
		ExpireTime:     c.ExpireTime,
		CompletedCount: c.CompletedCount,
		TotalCount:     c.TotalCount,
		Assignments:    c.Assignments(),
		Completions:    c.Completions,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if resp.Completions == nil {
		resp.Completions = []chain.Completion{}
	}
	switch st := c.State.(type) {
	case chain.Active:
		resp.ActivatedAt = &st.Since
	case chain.Completed:
		resp.FinishedAt = &st.At
	case chain.Expired:
		resp.FinishedAt = &st.At
	}
	return resp
}

func toChainList(chains []*chain.ReviewChain) chainListResponse {
	out := chainListResponse{Chains: make([]chainResponse, 0, len(chains)), Count: len(chains)}
	for _, c := range chains {
		out.Chains = append(out.Chains, toChainResponse(c))
	}
	return out
}

// httpError maps domain errors to status codes. Unknown errors are logged
// and hidden behind a 500.
func httpError(c echo.Context, err error) error {
	var fieldErrs chain.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		return echo.NewHTTPError(http.StatusBadRequest, errorResponse{Error: chain.ErrInvalidInput.Error(), Fields: fieldErrs})
	case errors.Is(err, chain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, chain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, errorResponse{Error: chain.ErrNotFound.Error()})
	case errors.Is(err, chain.ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, errorResponse{Error: chain.ErrNotParticipant.Error()})
	case errors.Is(err, chain.ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, errorResponse{Error: chain.ErrNotActive.Error()})
	case errors.Is(err, chain.ErrDuplicateReview):
		return echo.NewHTTPError(http.StatusConflict, errorResponse{Error: chain.ErrDuplicateReview.Error()})
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) createChain(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return badRequest("failed to read request body")
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return badRequest("request body must be JSON")
	}
	if fieldErrs := s.schemas.validate("CreateReviewChainRequest", raw); fieldErrs != nil {
		return httpError(c, fieldErrs)
	}

	var req createChainRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		return httpError(c, chain.FieldErrors{{Field: "endedAt", Message: "must be an RFC 3339 timestamp"}})
	}

	in := chain.CreateInput{ActivityID: req.ActivityID, ParticipantIDs: req.ParticipantIDs}
	if req.EndedAt != nil {
		in.EndedAt = *req.EndedAt
	}

	created, err := s.service.CreateChain(c.Request().Context(), in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, toChainResponse(created))
}

func (s *Server) listChains(c echo.Context) error {
	filter := chain.ListFilter{
		ActivityID: c.QueryParam("activityId"),
		Limit:      defaultListLimit,
	}

	if raw := c.QueryParam("status"); raw != "" {
		status, ok := chain.ParseStatus(raw)
		if !ok {
			return httpError(c, chain.FieldErrors{{Field: "status", Message: "must be one of pending, active, completed, expired"}})
		}
		filter.Status = status
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			return httpError(c, chain.FieldErrors{{Field: "limit", Message: "must be an integer between 1 and 500"}})
		}
		filter.Limit = limit
	}

	chains, err := s.service.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toChainList(chains))
}

func (s *Server) getChain(c echo.Context) error {
	got, err := s.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toChainResponse(got))
}

func (s *Server) activateChain(c echo.Context) error {
	activated, err := s.service.Activate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toChainResponse(activated))
}

func (s *Server) recordReview(c echo.Context) error {
	var reviewerID string
	if s.tokens != nil {
		id, ok := auth.ReviewerID(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, errorResponse{Error: "reviewer token required"})
		}
		reviewerID = id
	} else {
		var req recordReviewRequest
		if err := json.NewDecoder(io.LimitReader(c.Request().Body, maxBodyBytes)).Decode(&req); err != nil {
			return badRequest("request body must be JSON")
		}
		reviewerID = req.ReviewerID
	}
	if reviewerID == "" {
		return httpError(c, chain.FieldErrors{{Field: "reviewerId", Message: "must be a non-empty string"}})
	}

	updated, err := s.service.RecordReviewCompleted(c.Request().Context(), c.Param("id"), reviewerID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toChainResponse(updated))
}

func (s *Server) expireOverdue(c echo.Context) error {
	expired, err := s.service.ExpireOverdueChains(c.Request().Context(), s.now().UTC())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toChainList(expired))
}
