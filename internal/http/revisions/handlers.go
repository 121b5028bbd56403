package revisions

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/http/common"
	"bordereau/internal/usecase"
)

type Handler struct {
	Revisions *usecase.RevisionService
	Documents *usecase.DocumentService
}

func NewHandler(revisions *usecase.RevisionService, docs *usecase.DocumentService) *Handler {
	return &Handler{Revisions: revisions, Documents: docs}
}

type createRequest struct {
	AuthoringSiret string            `json:"authoringSiret"`
	Patch          bsd.RevisionPatch `json:"patch"`
	Comment        string            `json:"comment"`
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

func (h *Handler) HandleCreate(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req createRequest
	if !common.BindJSON(c, &req) {
		return
	}
	author := strings.TrimSpace(req.AuthoringSiret)
	if author == "" && len(actor.Orgs) == 1 {
		author = actor.Orgs[0]
	}
	if author == "" {
		common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "authoringSiret is required")
		return
	}
	revision, err := h.Revisions.Create(c.Request.Context(), usecase.CreateRevisionInput{
		DocumentID:     id,
		AuthoringSiret: author,
		Patch:          req.Patch,
		Comment:        req.Comment,
		Actor:          actor,
	})
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"revision": revision})
}

func (h *Handler) HandleList(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Documents.GetFor(ctx, id, actor); err != nil {
		common.WriteError(c, err)
		return
	}
	items, err := h.Revisions.ListForDocument(ctx, id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if items == nil {
		items = []bsd.RevisionRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) HandleGet(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	revision, err := h.Revisions.Get(ctx, id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if _, err := h.Documents.GetFor(ctx, revision.DocumentID, actor); err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": revision})
}

func (h *Handler) HandleApprove(c *gin.Context) {
	h.decide(c, h.Revisions.Approve)
}

func (h *Handler) HandleRefuse(c *gin.Context) {
	h.decide(c, h.Revisions.Refuse)
}

type decision func(ctx context.Context, approvalID, comment string, actor usecase.Actor) (bsd.RevisionRequest, error)

func (h *Handler) decide(c *gin.Context, fn decision) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req decisionRequest
	if c.Request.ContentLength > 0 && !common.BindJSON(c, &req) {
		return
	}
	revision, err := fn(c.Request.Context(), id, req.Comment, actor)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": revision})
}

func (h *Handler) HandleCancel(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	revision, err := h.Revisions.CancelPending(c.Request.Context(), id, actor)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": revision})
}
