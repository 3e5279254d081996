package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lexistage/internal/comments"
)

// AddCommentRequest attaches a note to a changeset or a single field change.
type AddCommentRequest struct {
	ChangesetID   *string `json:"changeset_id"`
	FieldChangeID *string `json:"field_change_id"`
	Author        string  `json:"author"`
	Content       string  `json:"content"`
}

func (h *Handler) addComment(c echo.Context) error {
	var req AddCommentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	in := comments.NewComment{Author: req.Author, Content: req.Content}
	if req.ChangesetID != nil {
		id, ok := parseID(*req.ChangesetID)
		if !ok {
			return badRequest(c, "Invalid changeset_id")
		}
		in.ChangesetID = &id
	}
	if req.FieldChangeID != nil {
		id, ok := parseID(*req.FieldChangeID)
		if !ok {
			return badRequest(c, "Invalid field_change_id")
		}
		in.FieldChangeID = &id
	}

	comment, err := h.comments.AddComment(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toCommentDTO(*comment))
}

func (h *Handler) getComments(c echo.Context) error {
	var f comments.Filter
	if raw := c.QueryParam("changeset_id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			return badRequest(c, "Invalid changeset_id")
		}
		f.ChangesetID = &id
	}
	if raw := c.QueryParam("field_change_id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			return badRequest(c, "Invalid field_change_id")
		}
		f.FieldChangeID = &id
	}
	f.Author = c.QueryParam("author")

	list, err := h.comments.GetComments(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]commentDTO, 0, len(list))
	for _, cm := range list {
		out = append(out, toCommentDTO(cm))
	}
	return c.JSON(http.StatusOK, out)
}

// CommentCountsRequest asks for per-changeset badge counts.
type CommentCountsRequest struct {
	ChangesetIDs []string `json:"changeset_ids"`
}

func (h *Handler) getCommentCounts(c echo.Context) error {
	var req CommentCountsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ids, err := parseIDList(req.ChangesetIDs)
	if err != nil {
		return badRequest(c, err.Error())
	}

	counts, err := h.comments.GetCommentCounts(c.Request().Context(), ids)
	if err != nil {
		return respondError(c, err)
	}
	out := make(map[string]int, len(counts))
	for id, n := range counts {
		out[idString(id)] = n
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) markAsRead(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid changeset id")
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.comments.MarkAsRead(c.Request().Context(), req.ActorID, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) getUnreadComments(c echo.Context) error {
	user := c.QueryParam("user")
	list, err := h.comments.GetUnreadComments(c.Request().Context(), user)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]commentDTO, 0, len(list))
	for _, cm := range list {
		out = append(out, toCommentDTO(cm))
	}
	return c.JSON(http.StatusOK, out)
}

// UnreadStatusRequest asks which of the listed changesets carry unread
// comments for a user.
type UnreadStatusRequest struct {
	UserID       string   `json:"user_id"`
	ChangesetIDs []string `json:"changeset_ids"`
}

func (h *Handler) getUnreadStatus(c echo.Context) error {
	var req UnreadStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ids, err := parseIDList(req.ChangesetIDs)
	if err != nil {
		return badRequest(c, err.Error())
	}

	unread, err := h.comments.GetUnreadStatusForChangesets(c.Request().Context(), req.UserID, ids)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]string, 0, len(unread))
	for id := range unread {
		out = append(out, idString(id))
	}
	return c.JSON(http.StatusOK, map[string][]string{"unread": out})
}
