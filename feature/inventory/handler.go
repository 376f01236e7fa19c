package inventory

import (
	"stocksync/core/logger"
	"stocksync/feature/inventory/push"
	"stocksync/feature/inventory/reconcile"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for inventory sync.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the inventory routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/inventory")
	group.Post("/reconcile", h.HandleReconcile)
	group.Post("/push", h.HandlePush)
	group.Post("/resync", h.HandleResync)
	group.Get("/runs", h.HandleListRuns)
	group.Get("/stores", h.HandleListStores)
}

// HandleReconcile triggers a reconciliation pass over one or all stores.
// @Summary Trigger Reconciliation
// @Description Fetch remote inventory truth and reconcile it against local rows under each store's truth policy.
// @Tags inventory
// @Accept json
// @Produce json
// @Param request body reconcile.Request true "Reconciliation request"
// @Success 200 {object} reconcile.Result "Per-store run results"
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /inventory/reconcile [post]
func (h *Handler) HandleReconcile(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	var req reconcile.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	result, err := h.service.Reconcile(c.Context(), req)
	if err != nil {
		l.Error("Reconciliation request rejected", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(result)
}

// HandlePush pushes one SKU's absolute quantities to its store.
// @Summary Push SKU
// @Description Aggregate local rows into one absolute quantity per location and set it on the marketplace.
// @Tags inventory
// @Accept json
// @Produce json
// @Param request body push.Request true "Push request"
// @Success 200 {object} push.Result "Push outcome"
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /inventory/push [post]
func (h *Handler) HandlePush(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	var req push.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.StoreKey == "" || req.SKU == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "storeKey and sku are required",
		})
	}

	result, err := h.service.Push(c.Context(), req)
	if err != nil {
		l.Error("Push failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(result)
}

// resyncRequest narrows a reconciliation to a single SKU.
type resyncRequest struct {
	StoreKey string `json:"store_key"`
	SKU      string `json:"sku"`
}

// HandleResync runs a targeted reconciliation of one SKU.
// @Summary Resync SKU
// @Description Batch-fetch remote facts for one SKU and reconcile them under the store's truth policy.
// @Tags inventory
// @Accept json
// @Produce json
// @Param request body resyncRequest true "Resync request"
// @Success 200 {object} reconcile.Result "Resync result"
// @Failure 400 {object} map[string]string "Invalid request"
// @Router /inventory/resync [post]
func (h *Handler) HandleResync(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	var req resyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	result, err := h.service.Resync(c.Context(), req.StoreKey, req.SKU)
	if err != nil {
		l.Warn("Resync rejected", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(result)
}

// HandleListRuns lists recent reconciliation runs.
// @Summary List Runs
// @Description List recent reconciliation runs, newest first.
// @Tags inventory
// @Produce json
// @Param store_key query string false "Filter by store"
// @Param limit query int false "Maximum rows (default 50)"
// @Success 200 {array} models.ReconciliationRun "Runs"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /inventory/runs [get]
func (h *Handler) HandleListRuns(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	runs, err := h.service.Runs(c.Query("store_key"), c.QueryInt("limit"))
	if err != nil {
		l.Error("Listing runs failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(runs)
}

// HandleListStores lists registered store connections.
// @Summary List Stores
// @Description List registered store connections without credentials.
// @Tags inventory
// @Produce json
// @Success 200 {array} StoreSummary "Stores"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /inventory/stores [get]
func (h *Handler) HandleListStores(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	stores, err := h.service.Stores()
	if err != nil {
		l.Error("Listing stores failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(stores)
}
