package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/models"
	"github.com/resaleops/synergy_backend/utils"
)

func registerSynergyRoutes(r *gin.Engine) {
	// Purchase orders & lines (import contract).
	r.POST("/pos", createPoHandler)
	r.GET("/pos/:po_id", getPoHandler)
	r.DELETE("/pos/:po_id", deletePoHandler)
	r.POST("/pos/:po_id/lines", addPoLinesHandler)

	// Synergy ID lifecycle.
	r.POST("/lines/:po_id/preview", synergyPreviewHandler)
	r.POST("/lines/:po_id/mint", mintSynergyHandler)
	r.POST("/explode/:po_id", explodeByLineHandler)
	r.GET("/pos/:po_id/mint-stats", mintStatsHandler)
	r.POST("/imports/:po_id/explode-by-line", explodeByLineHandler)
	r.POST("/imports/:po_id/explode_group", explodeGroupHandler)

	// Longer-path aliases used by the back-office console.
	r.POST("/pos/:po_id/synergy_preview", synergyPreviewHandler)
	r.POST("/pos/:po_id/mint_synergy", mintSynergyHandler)

	// Prefix counters (admin).
	r.GET("/prefix/:prefix/peek", prefixPeekHandler)
	r.POST("/prefix/:prefix/take", prefixTakeHandler)
	r.POST("/prefix/:prefix/set", prefixSetHandler)
	r.POST("/prefix/:prefix/reset", prefixResetHandler)
	r.GET("/overview", synergyOverviewHandler)
	r.GET("/events", synergyEventsHandler)
	r.GET("/events/export", synergyEventsExportHandler)
	r.POST("/synergy-id/prefix/:prefix/reset", prefixResetHandler)
	r.GET("/synergy-id/overview", synergyOverviewHandler)
	r.GET("/synergy-id/events", synergyEventsHandler)
	r.GET("/synergy-id/events/export", synergyEventsExportHandler)

	// Categories (prefix source).
	r.GET("/categories", listCategoriesHandler)
	r.POST("/categories", createCategoryHandler)
	r.PATCH("/categories/:cat_id", updateCategoryHandler)
	r.DELETE("/categories/:cat_id", deleteCategoryHandler)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func uuidList(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// actorFromRequest prefers an explicit body actor over the header-derived
// context actor.
func actorFromRequest(c *gin.Context, bodyActor string) string {
	if a := strings.TrimSpace(bodyActor); a != "" {
		return a
	}
	actor, _ := utils.GetActorNameFromContext(c.Request.Context())
	return actor
}

func createPoHandler(c *gin.Context) {
	var input models.NewPurchaseOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	po, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, po)
}

func getPoHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	po, err := models.GetPurchaseOrder(c.Request.Context(), poId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, po)
}

func deletePoHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	if err := models.DeletePurchaseOrder(c.Request.Context(), poId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func addPoLinesHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	var input struct {
		Lines []models.NewPoLine `json:"lines" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	lines, err := models.AddPoLines(c.Request.Context(), poId, input.Lines)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"lines": lines})
}

func synergyPreviewHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	var body struct {
		LineIds []string `json:"line_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	lineIds, err := uuidList(body.LineIds)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "line_ids must be uuids"})
		return
	}
	if len(lineIds) == 0 {
		c.JSON(http.StatusOK, gin.H{"previews": []any{}, "notes": "No line_ids provided."})
		return
	}
	previews, err := models.PreviewSynergyCodes(c.Request.Context(), poId, lineIds)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"previews": previews, "notes": "Local preview generated."})
}

func mintSynergyHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	var body struct {
		LineIds   []string `json:"line_ids"`
		Overwrite bool     `json:"overwrite"`
	}
	// An empty body means "mint every unminted line of the PO".
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	lineIds, err := uuidList(body.LineIds)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "line_ids must be uuids"})
		return
	}
	updated, err := models.MintSynergyIds(c.Request.Context(), poId, lineIds, body.Overwrite)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func mintStatsHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	stats, err := models.GetMintStats(c.Request.Context(), poId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func explodeByLineHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ExplodeByLine")
	defer span.End()

	result, err := models.ExplodeByLine(ctx, poId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"created": result.Created,
		"skipped": result.Skipped,
		"state":   result.State,
	})
}

func explodeGroupHandler(c *gin.Context) {
	poId, ok := uuidParam(c, "po_id")
	if !ok {
		return
	}
	var body struct {
		CategoryId string `json:"categoryId"`
		Prefix     string `json:"prefix"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	var categoryId *uuid.UUID
	if body.CategoryId != "" {
		id, err := uuid.Parse(body.CategoryId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "categoryId must be a uuid"})
			return
		}
		categoryId = &id
	}
	created, err := models.ExplodeGroup(c.Request.Context(), poId, categoryId, body.Prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "created": created})
}

func prefixPeekHandler(c *gin.Context) {
	code, err := models.PeekNextSynergyCode(c.Request.Context(), c.Param("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, code)
}

func prefixTakeHandler(c *gin.Context) {
	code, err := models.TakeSynergyCode(c.Request.Context(), c.Param("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, code)
}

func prefixSetHandler(c *gin.Context) {
	var body struct {
		Next   int64  `json:"next" binding:"required"`
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}

	err := models.ManualSetNext(c.Request.Context(), c.Param("prefix"), body.Next, actorFromRequest(c, body.Actor), body.Reason)
	if err != nil {
		var unsafeErr *models.UnsafeNextSeqError
		if errors.As(err, &unsafeErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"message":   unsafeErr.Error(),
				"safe_next": unsafeErr.SafeNext,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "next": body.Next})
}

func prefixResetHandler(c *gin.Context) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	next, err := models.ResetPrefixToDefault(c.Request.Context(), c.Param("prefix"), actorFromRequest(c, body.Actor))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "next": next})
}

func synergyOverviewHandler(c *gin.Context) {
	items, err := models.SynergyOverview(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func eventFilterFromQuery(c *gin.Context) (models.SynergyEventFilter, error) {
	filter := models.SynergyEventFilter{
		Prefix: c.Query("prefix"),
		Code:   c.Query("code"),
	}
	if raw := c.Query("po_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.New("po_id must be a uuid")
		}
		filter.PoId = &id
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("limit must be an integer")
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("offset must be an integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

func synergyEventsHandler(c *gin.Context) {
	filter, err := eventFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events, err := models.ListSynergyEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

func synergyEventsExportHandler(c *gin.Context) {
	filter, err := eventFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := models.ExportSynergyEventsExcel(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="synergy-events.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}

func listCategoriesHandler(c *gin.Context) {
	categories, err := models.ListCategories(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": categories})
}

func createCategoryHandler(c *gin.Context) {
	var input models.NewCategory
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	category, err := models.CreateCategory(c.Request.Context(), &input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, category)
}

func updateCategoryHandler(c *gin.Context) {
	catId, ok := uuidParam(c, "cat_id")
	if !ok {
		return
	}
	// PATCH accepts a subset of fields; required-field validation only
	// applies on create.
	var body struct {
		Label  string `json:"label"`
		Prefix string `json:"prefix"`
		Notes  string `json:"notes"`
		Icon   string `json:"icon"`
		Color  string `json:"color"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	input := models.NewCategory{Label: body.Label, Prefix: body.Prefix, Notes: body.Notes, Icon: body.Icon, Color: body.Color}
	category, err := models.UpdateCategory(c.Request.Context(), catId, &input)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, category)
}

func deleteCategoryHandler(c *gin.Context) {
	catId, ok := uuidParam(c, "cat_id")
	if !ok {
		return
	}
	if err := models.DeleteCategory(c.Request.Context(), catId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
