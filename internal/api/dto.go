package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/lexistage/internal/changeset"
	"github.com/lexistage/internal/comments"
	"github.com/lexistage/internal/lexvalue"
)

// Numeric ids cross the wire as strings so JavaScript callers never hit
// float precision limits.

func idString(id int64) string { return strconv.FormatInt(id, 10) }

func idPtrString(id *int64) *string {
	if id == nil {
		return nil
	}
	s := idString(*id)
	return &s
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func parseIDList(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, ok := parseID(r)
		if !ok {
			return nil, fmt.Errorf("invalid id: %s", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps engine errors onto HTTP statuses.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, changeset.ErrNotFound) || errors.Is(err, comments.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, changeset.ErrValidation) || errors.Is(err, comments.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, changeset.ErrTerminal):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

type fieldChangeDTO struct {
	ID          string                `json:"id"`
	ChangesetID string                `json:"changeset_id"`
	FieldName   string                `json:"field_name"`
	OldValue    lexvalue.Value        `json:"old_value"`
	NewValue    lexvalue.Value        `json:"new_value"`
	Status      changeset.FieldStatus `json:"status"`
	ApprovedBy  *string               `json:"approved_by"`
	ApprovedAt  *time.Time            `json:"approved_at"`
	RejectedBy  *string               `json:"rejected_by"`
	RejectedAt  *time.Time            `json:"rejected_at"`
	CreatedAt   time.Time             `json:"created_at"`
}

func toFieldChangeDTO(fc changeset.FieldChange) fieldChangeDTO {
	return fieldChangeDTO{
		ID:          idString(fc.ID),
		ChangesetID: idString(fc.ChangesetID),
		FieldName:   fc.FieldName,
		OldValue:    fc.OldValue,
		NewValue:    fc.NewValue,
		Status:      fc.Status,
		ApprovedBy:  fc.ApprovedBy,
		ApprovedAt:  fc.ApprovedAt,
		RejectedBy:  fc.RejectedBy,
		RejectedAt:  fc.RejectedAt,
		CreatedAt:   fc.CreatedAt,
	}
}

type changesetDTO struct {
	ID             string              `json:"id"`
	EntityType     string              `json:"entity_type"`
	EntityID       *string             `json:"entity_id"`
	Operation      changeset.Operation `json:"operation"`
	EntityVersion  *int64              `json:"entity_version"`
	BeforeSnapshot lexvalue.Value      `json:"before_snapshot"`
	AfterSnapshot  lexvalue.Value      `json:"after_snapshot"`
	Status         changeset.Status    `json:"status"`
	CreatedBy      *string             `json:"created_by"`
	LLMJobID       *string             `json:"llm_job_id"`
	ReviewedBy     *string             `json:"reviewed_by"`
	ReviewedAt     *time.Time          `json:"reviewed_at"`
	CommittedAt    *time.Time          `json:"committed_at"`
	CreatedAt      time.Time           `json:"created_at"`
	FieldChanges   []fieldChangeDTO    `json:"field_changes,omitempty"`
}

func toChangesetDTO(cs changeset.Changeset) changesetDTO {
	dto := changesetDTO{
		ID:             idString(cs.ID),
		EntityType:     cs.EntityType,
		EntityID:       idPtrString(cs.EntityID),
		Operation:      cs.Operation,
		EntityVersion:  cs.EntityVersion,
		BeforeSnapshot: cs.BeforeSnapshot,
		AfterSnapshot:  cs.AfterSnapshot,
		Status:         cs.Status,
		CreatedBy:      cs.CreatedBy,
		LLMJobID:       cs.LLMJobID,
		ReviewedBy:     cs.ReviewedBy,
		ReviewedAt:     cs.ReviewedAt,
		CommittedAt:    cs.CommittedAt,
		CreatedAt:      cs.CreatedAt,
	}
	for _, fc := range cs.FieldChanges {
		dto.FieldChanges = append(dto.FieldChanges, toFieldChangeDTO(fc))
	}
	return dto
}

type commitErrorDTO struct {
	ChangesetID string  `json:"changeset_id"`
	EntityID    *string `json:"entity_id"`
	FieldName   string  `json:"field_name,omitempty"`
	Reason      string  `json:"reason"`
}

type commitResultDTO struct {
	Success        bool             `json:"success"`
	CommittedCount int              `json:"committed_count"`
	SkippedCount   int              `json:"skipped_count"`
	Errors         []commitErrorDTO `json:"errors"`
}

func toCommitResultDTO(r *changeset.CommitResult) commitResultDTO {
	dto := commitResultDTO{
		Success:        r.Success,
		CommittedCount: r.CommittedCount,
		SkippedCount:   r.SkippedCount,
		Errors:         []commitErrorDTO{},
	}
	for _, e := range r.Errors {
		dto.Errors = append(dto.Errors, commitErrorDTO{
			ChangesetID: idString(e.ChangesetID),
			EntityID:    idPtrString(e.EntityID),
			FieldName:   e.FieldName,
			Reason:      e.Reason,
		})
	}
	return dto
}

type commentDTO struct {
	ID            string    `json:"id"`
	ChangesetID   *string   `json:"changeset_id"`
	FieldChangeID *string   `json:"field_change_id"`
	Author        string    `json:"author"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

func toCommentDTO(cm comments.Comment) commentDTO {
	return commentDTO{
		ID:            idString(cm.ID),
		ChangesetID:   idPtrString(cm.ChangesetID),
		FieldChangeID: idPtrString(cm.FieldChangeID),
		Author:        cm.Author,
		Content:       cm.Content,
		CreatedAt:     cm.CreatedAt,
	}
}
