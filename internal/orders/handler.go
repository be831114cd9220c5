package orders

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/payments"
)

// Handler exposes checkout and merchant sales endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an orders handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	StoreID       string      `json:"store_id" validate:"required,uuid"`
	Items         []ItemInput `json:"items" validate:"required,min=1,dive"`
	PaymentOption string      `json:"payment_option" validate:"required,oneof=full bnpl"`
	TermMonths    int         `json:"term_months" validate:"omitempty,oneof=1 3 6 12"`
	Method        string      `json:"method" validate:"omitempty,oneof=mpesa bank_transfer crypto card wallet"`
	ClientTxID    string      `json:"client_tx_id" validate:"omitempty,max=64"`
	payments.Details
}

// Create handles POST /orders.
func (h *Handler) Create(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	if req.PaymentOption == OptionFull && req.Method == "" {
		return fiber.NewError(http.StatusBadRequest, "method is required for full payment")
	}
	if req.PaymentOption == OptionBNPL && req.TermMonths == 0 {
		return fiber.NewError(http.StatusBadRequest, "term_months is required for bnpl")
	}
	clientTxID := req.ClientTxID
	if clientTxID == "" {
		clientTxID = c.Get("Idempotency-Key")
	}
	order, err := h.service.Create(c.UserContext(), CreateInput{
		UserID:        uid,
		StoreID:       req.StoreID,
		Items:         req.Items,
		PaymentOption: req.PaymentOption,
		TermMonths:    req.TermMonths,
		Method:        req.Method,
		Details:       req.Details,
		ClientTxID:    clientTxID,
	})
	if err != nil {
		return toHTTPError(err)
	}
	msg := "order paid"
	if order.Status == StatusPending {
		msg = "order placed, awaiting loan approval"
	}
	return httpx.OK(c, http.StatusCreated, order, msg)
}

// List handles GET /orders.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.ListByUser(c.UserContext(), uid, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// Get handles GET /orders/:id.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	o, err := h.service.Get(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, o)
}

// Cancel handles POST /orders/:id/cancel.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	o, err := h.service.Cancel(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, o, "order cancelled")
}

// Recent handles GET /merchant/orders/recent.
func (h *Handler) Recent(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.service.RecentForOwner(c.UserContext(), uid, limit)
	if err != nil {
		return err
	}
	if items == nil {
		items = []Order{}
	}
	return httpx.OK(c, http.StatusOK, items)
}

// Analytics handles GET /merchant/analytics?from=&to= (RFC 3339 or YYYY-MM-DD).
// The window defaults to the last 30 days.
func (h *Handler) Analytics(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		if from, err = parseDate(v); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid from date")
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = parseDate(v); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid to date")
		}
	}
	if !from.Before(to) {
		return fiber.NewError(http.StatusBadRequest, "from must be before to")
	}
	out, err := h.service.Analytics(c.UserContext(), uid, from, to)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, out)
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyOrder), errors.Is(err, ErrInvalidOption):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotCancellable), errors.Is(err, ErrStateChanged), errors.Is(err, ledger.ErrDuplicateTransaction):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, merchant.ErrNotFound), errors.Is(err, merchant.ErrProductNotFound),
		errors.Is(err, merchant.ErrInsufficientStock), errors.Is(err, merchant.ErrStoreInactive),
		errors.Is(err, merchant.ErrInvalidProduct):
		return merchant.HTTPError(err)
	default:
		return loans.HTTPError(err)
	}
}
