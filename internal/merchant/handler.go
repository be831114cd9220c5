package merchant

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/payments"
)

// Handler exposes store, catalogue and payout endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a merchant handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListStores handles GET /stores.
func (h *Handler) ListStores(c *fiber.Ctx) error {
	page := httpx.ParsePage(c)
	items, total, err := h.service.ListStores(c.UserContext(), c.Query("category"), c.Query("search"), page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// GetStore handles GET /stores/:id. Only active stores are public.
func (h *Handler) GetStore(c *fiber.Ctx) error {
	store, err := h.service.GetStore(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if store.Status != StatusActive {
		return toHTTPError(ErrNotFound)
	}
	return httpx.OK(c, http.StatusOK, store)
}

// Marketplace handles GET /products.
func (h *Handler) Marketplace(c *fiber.Ctx) error {
	page := httpx.ParsePage(c)
	items, total, err := h.service.Marketplace(c.UserContext(), c.Query("category"), c.Query("search"), page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// GetProduct handles GET /products/:id.
func (h *Handler) GetProduct(c *fiber.Ctx) error {
	p, err := h.service.GetProduct(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, p)
}

// MyStores handles GET /merchant/stores.
func (h *Handler) MyStores(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	stores, err := h.service.ListByOwner(c.UserContext(), uid)
	if err != nil {
		return err
	}
	if stores == nil {
		stores = []Store{}
	}
	return httpx.OK(c, http.StatusOK, stores)
}

// CreateStore handles POST /merchant/stores.
func (h *Handler) CreateStore(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var in StoreInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	store, err := h.service.CreateStore(c.UserContext(), uid, in)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, store, "store submitted for approval")
}

// MyStore handles GET /merchant/stores/:id.
func (h *Handler) MyStore(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	store, err := h.service.OwnedStore(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, store)
}

// UpdateStore handles PUT /merchant/stores/:id.
func (h *Handler) UpdateStore(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var in StoreInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	store, err := h.service.UpdateStore(c.UserContext(), uid, c.Params("id"), in)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, store, "store updated")
}

// StoreProducts handles GET /merchant/stores/:id/products.
func (h *Handler) StoreProducts(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	if _, err := h.service.OwnedStore(c.UserContext(), uid, c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.ListProducts(c.UserContext(), c.Params("id"), page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// CreateProduct handles POST /merchant/stores/:id/products.
func (h *Handler) CreateProduct(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var in ProductInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	p, err := h.service.CreateProduct(c.UserContext(), uid, c.Params("id"), in)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, p, "product created")
}

// UpdateProduct handles PUT /merchant/products/:id.
func (h *Handler) UpdateProduct(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var in ProductInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	p, err := h.service.UpdateProduct(c.UserContext(), uid, c.Params("id"), in)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, p, "product updated")
}

// DeleteProduct handles DELETE /merchant/products/:id.
func (h *Handler) DeleteProduct(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteProduct(c.UserContext(), uid, c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, nil, "product deleted")
}

type payoutRequest struct {
	StoreID     string `json:"store_id" validate:"required,uuid"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Destination string `json:"destination" validate:"max=64"`
}

// RequestPayout handles POST /merchant/payouts.
func (h *Handler) RequestPayout(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req payoutRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	payout, err := h.service.RequestPayout(c.UserContext(), uid, PayoutInput{
		StoreID:     req.StoreID,
		Amount:      req.Amount,
		Destination: req.Destination,
		ClientTxID:  c.Get("Idempotency-Key"),
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, payout, "payout sent")
}

// Payouts handles GET /merchant/payouts.
func (h *Handler) Payouts(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.PayoutHistory(c.UserContext(), uid, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// AdminList handles GET /admin/merchants.
func (h *Handler) AdminList(c *fiber.Ctx) error {
	page := httpx.ParsePage(c)
	items, total, err := h.service.AdminListStores(c.UserContext(), StoreFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Search:   c.Query("search"),
	}, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending active suspended"`
}

// SetStatus handles PATCH /admin/merchants/:id/status.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	store, err := h.service.SetStatus(c.UserContext(), c.Params("id"), req.Status)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, store, "store status updated")
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrProductNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidStore), errors.Is(err, ErrInvalidProduct), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrBelowMinimum):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStoreInactive):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return payments.HTTPError(err)
	}
}

// HTTPError maps merchant errors for handlers in other packages.
func HTTPError(err error) error { return toHTTPError(err) }
