package traceability

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/http/common"
	"bordereau/internal/usecase"
)

// Handler exposes the grouping, synthesis, forwarding and packaging lineage
// relations between documents.
type Handler struct {
	Graph     *usecase.GraphService
	Documents *usecase.DocumentService
}

func NewHandler(graph *usecase.GraphService, docs *usecase.DocumentService) *Handler {
	return &Handler{Graph: graph, Documents: docs}
}

type relationRequest struct {
	SourceIDs []string `json:"sourceIds"`
}

type forwardRequest struct {
	ForwardedID string `json:"forwardedId"`
}

type backwardRequest struct {
	PackagingIDs []string `json:"packagingIds"`
	MaxHops      *int     `json:"maxHops"`
}

type linkRequest struct {
	NextPackagingID string `json:"nextPackagingId"`
}

func (h *Handler) HandleGrouping(c *gin.Context) {
	id, ok := h.readable(c)
	if !ok {
		return
	}
	items, err := h.Graph.GroupingOf(c.Request.Context(), id)
	writeSummaries(c, items, err)
}

func (h *Handler) HandleSynthesizing(c *gin.Context) {
	id, ok := h.readable(c)
	if !ok {
		return
	}
	items, err := h.Graph.SynthesizingOf(c.Request.Context(), id)
	writeSummaries(c, items, err)
}

func (h *Handler) HandleForwardedBy(c *gin.Context) {
	id, ok := h.readable(c)
	if !ok {
		return
	}
	doc, err := h.Graph.ForwardedBy(c.Request.Context(), id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *Handler) HandleGroup(c *gin.Context) {
	h.link(c, h.Graph.Group)
}

func (h *Handler) HandleSynthesize(c *gin.Context) {
	h.link(c, h.Graph.Synthesize)
}

func (h *Handler) link(c *gin.Context, fn func(ctx context.Context, input usecase.RelationInput) (bsd.Document, error)) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req relationRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if !common.ValidUUIDs(req.SourceIDs) {
		common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "sourceIds must be UUIDs")
		return
	}
	doc, err := fn(c.Request.Context(), usecase.RelationInput{DocumentID: id, SourceIDs: req.SourceIDs, Actor: actor})
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *Handler) HandleForward(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req forwardRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if !common.ValidUUIDs([]string{req.ForwardedID}) {
		common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "forwardedId must be a UUID")
		return
	}
	doc, err := h.Graph.ForwardDocument(c.Request.Context(), id, req.ForwardedID, actor)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *Handler) HandlePackagingForward(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	maxHops := -1
	if raw := strings.TrimSpace(c.Query("maxHops")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "maxHops must be an integer")
			return
		}
		maxHops = parsed
	}
	items, err := h.Graph.Forward(c.Request.Context(), id, maxHops)
	writePackagings(c, items, err)
}

func (h *Handler) HandlePackagingBackward(c *gin.Context) {
	var req backwardRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if !common.ValidUUIDs(req.PackagingIDs) {
		common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "packagingIds must be UUIDs")
		return
	}
	maxHops := -1
	if req.MaxHops != nil {
		maxHops = *req.MaxHops
	}
	items, err := h.Graph.Backward(c.Request.Context(), req.PackagingIDs, maxHops)
	writePackagings(c, items, err)
}

func (h *Handler) HandleLinkPackaging(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req linkRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if !common.ValidUUIDs([]string{req.NextPackagingID}) {
		common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "nextPackagingId must be a UUID")
		return
	}
	packaging, err := h.Graph.LinkPackaging(c.Request.Context(), id, req.NextPackagingID, actor)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packaging": packaging})
}

func (h *Handler) readable(c *gin.Context) (string, bool) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return "", false
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return "", false
	}
	if _, err := h.Documents.GetFor(c.Request.Context(), id, actor); err != nil {
		common.WriteError(c, err)
		return "", false
	}
	return id, true
}

func writeSummaries(c *gin.Context, items []bsd.DocumentSummary, err error) {
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if items == nil {
		items = []bsd.DocumentSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "totals": bsd.SumTotals(items)})
}

func writePackagings(c *gin.Context, items []bsd.Packaging, err error) {
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if items == nil {
		items = []bsd.Packaging{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
