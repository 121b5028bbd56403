package documents

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/http/common"
	"bordereau/internal/usecase"
)

type Handler struct {
	Documents    *usecase.DocumentService
	Transporters *usecase.TransporterService
	Events       *usecase.EventLog
}

func NewHandler(docs *usecase.DocumentService, transporters *usecase.TransporterService, events *usecase.EventLog) *Handler {
	return &Handler{Documents: docs, Transporters: transporters, Events: events}
}

type createRequest struct {
	Family                     string          `json:"family"`
	IsDraft                    bool            `json:"isDraft"`
	Emitter                    bsd.Company     `json:"emitter"`
	EmitterIsPrivateIndividual bool            `json:"emitterIsPrivateIndividual"`
	EcoOrganisme               bsd.Company     `json:"ecoOrganisme"`
	Worker                     bsd.Company     `json:"worker"`
	Destination                bsd.Company     `json:"destination"`
	Broker                     bsd.Company     `json:"broker"`
	Trader                     bsd.Company     `json:"trader"`
	Waste                      bsd.Waste       `json:"waste"`
	Details                    json.RawMessage `json:"details"`
	Transporters               []bsd.Leg       `json:"transporters"`
	Packagings                 []bsd.Packaging `json:"packagings"`
}

type updateRequest struct {
	Emitter                    *bsd.Company    `json:"emitter"`
	EmitterIsPrivateIndividual *bool           `json:"emitterIsPrivateIndividual"`
	EcoOrganisme               *bsd.Company    `json:"ecoOrganisme"`
	Worker                     *bsd.Company    `json:"worker"`
	Destination                *bsd.Company    `json:"destination"`
	Broker                     *bsd.Company    `json:"broker"`
	Trader                     *bsd.Company    `json:"trader"`
	Waste                      *bsd.Waste      `json:"waste"`
	Details                    json.RawMessage `json:"details"`
	Reception                  *bsd.Reception  `json:"reception"`
	Operation                  *bsd.Operation  `json:"operation"`
}

type signRequest struct {
	Stage       string         `json:"stage"`
	Author      string         `json:"author"`
	Date        *time.Time     `json:"date"`
	Reception   *bsd.Reception `json:"reception"`
	Operation   *bsd.Operation `json:"operation"`
	Plates      []string       `json:"plates"`
	TakenOverAt *time.Time     `json:"takenOverAt"`
}

type transporterRequest struct {
	Company       bsd.Company            `json:"company"`
	Receipt       bsd.TransporterReceipt `json:"receipt"`
	TransportMode string                 `json:"transportMode"`
	Plates        []string               `json:"plates"`
	TakenOverAt   *time.Time             `json:"takenOverAt"`
}

func (h *Handler) HandleCreate(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	var req createRequest
	if !common.BindJSON(c, &req) {
		return
	}
	family, err := bsd.ParseFamily(req.Family)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	details, ok := decodeDetails(c, family, req.Details)
	if !ok {
		return
	}
	doc, err := h.Documents.Create(c.Request.Context(), usecase.CreateInput{
		Family:                     family,
		IsDraft:                    req.IsDraft,
		Emitter:                    req.Emitter,
		EmitterIsPrivateIndividual: req.EmitterIsPrivateIndividual,
		EcoOrganisme:               req.EcoOrganisme,
		Worker:                     req.Worker,
		Destination:                req.Destination,
		Broker:                     req.Broker,
		Trader:                     req.Trader,
		Waste:                      req.Waste,
		Details:                    details,
		Transporters:               req.Transporters,
		Packagings:                 req.Packagings,
		Actor:                      actor,
	})
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": doc})
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
	doc, err := h.Documents.GetFor(c.Request.Context(), id, actor)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *Handler) HandleList(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	filter := usecase.FindDocumentsFilter{
		Siret:  strings.TrimSpace(c.Query("siret")),
		Family: bsd.Family(strings.ToUpper(strings.TrimSpace(c.Query("family")))),
		Status: bsd.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	}
	if filter.Siret == "" && !actor.IsAdmin() && len(actor.Orgs) == 1 {
		filter.Siret = actor.Orgs[0]
	}
	if !actor.IsAdmin() {
		if filter.Siret == "" {
			common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "siret is required")
			return
		}
		if !actor.BelongsTo(filter.Siret) {
			common.WriteErrorCode(c, http.StatusForbidden, bsd.CodeForbidden, "you do not belong to this company")
			return
		}
	}
	if raw := strings.TrimSpace(c.Query("include_deleted")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "include_deleted must be a boolean")
			return
		}
		filter.IncludeDeleted = include
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	for name, target := range map[string]**time.Time{"created_after": &filter.CreatedAfter, "created_before": &filter.CreatedBefore} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, name+" must be RFC 3339")
			return
		}
		*target = &parsed
	}
	items, err := h.Documents.List(c.Request.Context(), filter)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if items == nil {
		items = []bsd.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) HandleUpdate(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req updateRequest
	if !common.BindJSON(c, &req) {
		return
	}
	input := usecase.UpdateInput{
		ID:                         id,
		Emitter:                    req.Emitter,
		EmitterIsPrivateIndividual: req.EmitterIsPrivateIndividual,
		EcoOrganisme:               req.EcoOrganisme,
		Worker:                     req.Worker,
		Destination:                req.Destination,
		Broker:                     req.Broker,
		Trader:                     req.Trader,
		Waste:                      req.Waste,
		Reception:                  req.Reception,
		Operation:                  req.Operation,
		Actor:                      actor,
	}
	if len(req.Details) > 0 {
		current, err := h.Documents.GetFor(c.Request.Context(), id, actor)
		if err != nil {
			common.WriteError(c, err)
			return
		}
		details, ok := decodeDetails(c, current.Family, req.Details)
		if !ok {
			return
		}
		input.Details = details
	}
	doc, err := h.Documents.Update(c.Request.Context(), input)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *Handler) HandleDelete(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.Documents.Delete(c.Request.Context(), id, actor); err != nil {
		common.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) HandleSign(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req signRequest
	if !common.BindJSON(c, &req) {
		return
	}
	stage, err := bsd.ParseStage(req.Stage)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	doc, err := h.Documents.Sign(c.Request.Context(), usecase.SignInput{
		DocumentID:  id,
		Stage:       stage,
		Author:      req.Author,
		Date:        req.Date,
		Reception:   req.Reception,
		Operation:   req.Operation,
		Plates:      req.Plates,
		TakenOverAt: req.TakenOverAt,
		Actor:       actor,
	})
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *Handler) HandleEvents(c *gin.Context) {
	id, ok := h.readable(c)
	if !ok {
		return
	}
	events, err := h.Events.Stream(c.Request.Context(), id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if events == nil {
		events = []bsd.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) HandlePackagings(c *gin.Context) {
	id, ok := h.readable(c)
	if !ok {
		return
	}
	packagings, err := h.Documents.Packagings(c.Request.Context(), id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if packagings == nil {
		packagings = []bsd.Packaging{}
	}
	c.JSON(http.StatusOK, gin.H{"packagings": packagings})
}

func (h *Handler) HandleCreateTransporter(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	var req transporterRequest
	if !common.BindJSON(c, &req) {
		return
	}
	leg, err := h.Transporters.CreateTransporter(c.Request.Context(), usecase.LegInput{
		Company:       req.Company,
		Receipt:       req.Receipt,
		TransportMode: req.TransportMode,
		Plates:        req.Plates,
		TakenOverAt:   req.TakenOverAt,
		Actor:         actor,
	})
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transporter": leg})
}

func (h *Handler) HandleConnect(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	legID, ok := common.ParseUUIDParam(c, "leg_id")
	if !ok {
		return
	}
	number, err := h.Transporters.Connect(c.Request.Context(), id, legID, actor)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": number})
}

func (h *Handler) HandleDisconnect(c *gin.Context) {
	actor, ok := common.ActorFromContext(c)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	legID, ok := common.ParseUUIDParam(c, "leg_id")
	if !ok {
		return
	}
	err := h.Transporters.Disconnect(c.Request.Context(), usecase.DisconnectInput{
		DocumentID: id,
		LegIDs:     []string{legID},
		Actor:      actor,
	})
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) HandleLegs(c *gin.Context) {
	id, ok := h.readable(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	legs, err := h.Transporters.Legs(ctx, id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	if legs == nil {
		legs = []bsd.Leg{}
	}
	current, err := h.Transporters.CurrentTransporter(ctx, id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	next, err := h.Transporters.NextTransporter(ctx, id)
	if err != nil {
		common.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transporters": legs, "current": current, "next": next})
}

// readable parses the :id param and checks the caller may read it.
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

func decodeDetails(c *gin.Context, family bsd.Family, raw json.RawMessage) (bsd.Details, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true
	}
	details, err := bsd.UnmarshalDetails(family, raw)
	if err != nil {
		common.WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, "details do not match the "+string(family)+" family")
		return nil, false
	}
	return details, true
}
