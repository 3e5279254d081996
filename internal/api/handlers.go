package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lexistage/internal/changeset"
	"github.com/lexistage/internal/comments"
	"github.com/lexistage/internal/jobqueue"
	"github.com/lexistage/internal/lexvalue"
)

// Handler carries the engine dependencies for the API endpoints.
type Handler struct {
	store    *changeset.Store
	comments *comments.Store
	queue    *jobqueue.JobQueue
}

// StageUpdateRequest proposes new field values for one entity.
type StageUpdateRequest struct {
	EntityType string                    `json:"entity_type"`
	EntityID   string                    `json:"entity_id"`
	Fields     map[string]lexvalue.Value `json:"fields"`
	ActorID    string                    `json:"actor_id"`
}

func (h *Handler) stageUpdate(c echo.Context) error {
	var req StageUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	entityID, ok := parseID(req.EntityID)
	if !ok {
		return badRequest(c, "Invalid entity_id")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	result, err := h.store.StageUpdate(c.Request().Context(), req.EntityType, entityID, req.Fields, changeset.ByUser(req.ActorID))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// StageCreateRequest proposes a brand-new entity.
type StageCreateRequest struct {
	EntityType string                    `json:"entity_type"`
	Fields     map[string]lexvalue.Value `json:"fields"`
	ActorID    string                    `json:"actor_id"`
}

func (h *Handler) stageCreate(c echo.Context) error {
	var req StageCreateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	result, err := h.store.StageCreate(c.Request().Context(), req.EntityType, req.Fields, changeset.ByUser(req.ActorID))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// StageDeleteRequest proposes removing an entity.
type StageDeleteRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

func (h *Handler) stageDelete(c echo.Context) error {
	var req StageDeleteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	entityID, ok := parseID(req.EntityID)
	if !ok {
		return badRequest(c, "Invalid entity_id")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	result, err := h.store.StageDelete(c.Request().Context(), req.EntityType, entityID, changeset.ByUser(req.ActorID))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// StageRolesRequest proposes a frame's ordered role list.
type StageRolesRequest struct {
	EntityID   string          `json:"entity_id"`
	Roles      lexvalue.Value  `json:"roles"`
	RoleGroups *lexvalue.Value `json:"role_groups"`
	ActorID    string          `json:"actor_id"`
}

func (h *Handler) stageRolesUpdate(c echo.Context) error {
	var req StageRolesRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	entityID, ok := parseID(req.EntityID)
	if !ok {
		return badRequest(c, "Invalid entity_id")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	result, err := h.store.StageRolesUpdate(c.Request().Context(), entityID, req.Roles, req.RoleGroups, changeset.ByUser(req.ActorID))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// StageModerationRequest batch-stages the same update across many entities.
type StageModerationRequest struct {
	EntityType string                    `json:"entity_type"`
	EntityIDs  []string                  `json:"entity_ids"`
	Updates    map[string]lexvalue.Value `json:"updates"`
	ActorID    string                    `json:"actor_id"`
}

type stageModerationResponse struct {
	StagedCount  int      `json:"staged_count"`
	ChangesetIDs []string `json:"changeset_ids"`
}

func (h *Handler) stageModerationUpdates(c echo.Context) error {
	var req StageModerationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}
	ids := make([]int64, 0, len(req.EntityIDs))
	for _, raw := range req.EntityIDs {
		id, ok := parseID(raw)
		if !ok {
			return badRequest(c, "Invalid entity id: "+raw)
		}
		ids = append(ids, id)
	}

	result, err := h.store.StageModerationUpdates(c.Request().Context(), req.EntityType, ids, req.Updates, changeset.ByUser(req.ActorID))
	if err != nil {
		return respondError(c, err)
	}
	resp := stageModerationResponse{StagedCount: result.StagedCount, ChangesetIDs: []string{}}
	for _, id := range result.ChangesetIDs {
		resp.ChangesetIDs = append(resp.ChangesetIDs, idString(id))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) getChangeset(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid changeset id")
	}
	cs, err := h.store.GetChangeset(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toChangesetDTO(*cs))
}

func (h *Handler) listPending(c echo.Context) error {
	groups, err := h.store.ListPending(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) discardChangeset(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid changeset id")
	}
	if err := h.store.DiscardChangeset(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ActorRequest carries just the acting user.
type ActorRequest struct {
	ActorID string `json:"actor_id"`
}

func (h *Handler) commitChangeset(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid changeset id")
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	result, err := h.store.CommitChangeset(c.Request().Context(), id, req.ActorID)
	if err != nil {
		return respondError(c, err)
	}
	// A commit where every approved field conflicted is a 409: the changeset
	// stays pending and the caller must re-diff.
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	return c.JSON(status, toCommitResultDTO(result))
}

func (h *Handler) approveAll(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid changeset id")
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	count, err := h.store.ApproveAllFieldChanges(c.Request().Context(), id, req.ActorID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) rejectAll(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid changeset id")
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	result, err := h.store.RejectAllFieldChanges(c.Request().Context(), id, req.ActorID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// UpsertFieldChangeRequest creates, overwrites, or reverts one staged field.
type UpsertFieldChangeRequest struct {
	FieldName string         `json:"field_name"`
	OldValue  lexvalue.Value `json:"old_value"`
	NewValue  lexvalue.Value `json:"new_value"`
}

func (h *Handler) upsertFieldChange(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid changeset id")
	}
	var req UpsertFieldChangeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.store.UpsertFieldChange(c.Request().Context(), id, req.FieldName, req.OldValue, req.NewValue)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// FieldStatusRequest moves one field change between review states.
type FieldStatusRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
}

type fieldStatusResponse struct {
	FieldChange        fieldChangeDTO `json:"field_change"`
	ChangesetDiscarded bool           `json:"changeset_discarded"`
}

func (h *Handler) updateFieldChangeStatus(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid field change id")
	}
	var req FieldStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	status, err := changeset.ParseFieldStatus(req.Status)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.store.UpdateFieldChangeStatus(c.Request().Context(), id, status, req.ActorID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, fieldStatusResponse{
		FieldChange:        toFieldChangeDTO(result.FieldChange),
		ChangesetDiscarded: result.ChangesetDiscarded,
	})
}

func (h *Handler) commitByLlmJob(c echo.Context) error {
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	result, err := h.store.CommitByLlmJob(c.Request().Context(), c.Param("jobId"), req.ActorID)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	return c.JSON(status, toCommitResultDTO(result))
}

func (h *Handler) commitByUser(c echo.Context) error {
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	result, err := h.store.CommitByUser(c.Request().Context(), c.Param("userId"), req.ActorID)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	return c.JSON(status, toCommitResultDTO(result))
}

func (h *Handler) discardByLlmJob(c echo.Context) error {
	if err := h.store.DiscardByLlmJob(c.Request().Context(), c.Param("jobId")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) discardByUser(c echo.Context) error {
	if err := h.store.DiscardByUser(c.Request().Context(), c.Param("userId")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SuggestionsRequest enqueues an AI suggestion batch for staging.
type SuggestionsRequest struct {
	EntityType  string                `json:"entity_type"`
	EntityID    string                `json:"entity_id"`
	Suggestions []jobqueue.Suggestion `json:"suggestions"`
}

func (h *Handler) enqueueSuggestions(c echo.Context) error {
	if h.queue == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "suggestion queue is disabled"})
	}
	var req SuggestionsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	entityID, ok := parseID(req.EntityID)
	if !ok {
		return badRequest(c, "Invalid entity_id")
	}

	err := h.queue.EnqueueSuggestionBatch(c.Request().Context(), jobqueue.SuggestionBatchArgs{
		LLMJobID:    c.Param("jobId"),
		EntityType:  req.EntityType,
		EntityID:    entityID,
		Suggestions: req.Suggestions,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) getPendingInfo(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid entity id")
	}
	info, err := h.store.GetPendingInfoForEntity(c.Request().Context(), c.Param("type"), id)
	if err != nil {
		return respondError(c, err)
	}
	if info == nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"changeset": toChangesetDTO(info.Changeset),
		"fields":    info.Fields,
	})
}
