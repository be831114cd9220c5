package loans

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/payments"
)

// Handler exposes borrower, merchant and admin loan endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a loan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type applyRequest struct {
	StoreID    string `json:"store_id" validate:"required,uuid"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	TermMonths int    `json:"term_months" validate:"required,oneof=1 3 6 12"`
	Purpose    string `json:"purpose" validate:"max=200"`
}

// Apply handles POST /loans/applications.
func (h *Handler) Apply(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req applyRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	loan, err := h.service.Apply(c.UserContext(), ApplyInput{
		UserID:     uid,
		StoreID:    req.StoreID,
		Amount:     req.Amount,
		TermMonths: req.TermMonths,
		Purpose:    req.Purpose,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, loan, "loan application submitted")
}

// Applications handles GET /loans/applications?status=.
func (h *Handler) Applications(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	loans, err := h.service.List(c.UserContext(), uid, c.Query("status"))
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, orEmpty(loans))
}

// Active handles GET /loans/active.
func (h *Handler) Active(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	loans, err := h.service.Active(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, orEmpty(loans))
}

// History handles GET /loans/history.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	loans, err := h.service.History(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, orEmpty(loans))
}

// Get handles GET /loans/:id.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	loan, err := h.service.Get(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, loan)
}

type repayRequest struct {
	LoanID     string `json:"loan_id" validate:"required,uuid"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	Method     string `json:"method" validate:"required,oneof=mpesa bank_transfer crypto card wallet"`
	ClientTxID string `json:"client_tx_id" validate:"omitempty,max=64"`
	payments.Details
}

// Repay handles POST /loans/payment.
func (h *Handler) Repay(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req repayRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	clientTxID := req.ClientTxID
	if clientTxID == "" {
		clientTxID = c.Get("Idempotency-Key")
	}
	res, err := h.service.Repay(c.UserContext(), RepayInput{
		UserID:     uid,
		LoanID:     req.LoanID,
		Amount:     req.Amount,
		Method:     req.Method,
		Details:    req.Details,
		ClientTxID: clientTxID,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) && res.Loan.ID != "" {
		return httpx.OK(c, http.StatusOK, res, "repayment already processed")
	}
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, res, "repayment received")
}

// Schedule handles GET /loans/payment/schedule.
func (h *Handler) Schedule(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	items, err := h.service.UpcomingSchedule(c.UserContext(), uid)
	if err != nil {
		return err
	}
	if items == nil {
		items = []ScheduleItem{}
	}
	return httpx.OK(c, http.StatusOK, items)
}

// StoreLoans handles GET /merchant/loans.
func (h *Handler) StoreLoans(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.ListForOwner(c.UserContext(), uid, c.Query("status"), page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// AdminList handles GET /admin/loans.
func (h *Handler) AdminList(c *fiber.Ctx) error {
	f := Filter{UserID: c.Query("user_id")}
	if status := c.Query("status"); status != "" {
		f.Statuses = []string{status}
	}
	if store := c.Query("store_id"); store != "" {
		f.StoreIDs = []string{store}
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.AdminList(c.UserContext(), f, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

func actor(c *fiber.Ctx) (Actor, error) {
	uid, err := httpx.UserID(c)
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: uid, Role: httpx.Role(c)}, nil
}

// Approve handles POST /merchant/loans/:id/approve and /admin/loans/:id/approve.
func (h *Handler) Approve(c *fiber.Ctx) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	loan, err := h.service.Approve(c.UserContext(), c.Params("id"), a)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, loan, "loan approved")
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Reject handles POST /merchant/loans/:id/reject and /admin/loans/:id/reject.
func (h *Handler) Reject(c *fiber.Ctx) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if len(c.Body()) > 0 {
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
	}
	loan, err := h.service.Reject(c.UserContext(), c.Params("id"), a, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, loan, "loan rejected")
}

func orEmpty(loans []Loan) []Loan {
	if loans == nil {
		return []Loan{}
	}
	return loans
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTerm), errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict), errors.Is(err, ledger.ErrDuplicateTransaction):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotEligible), errors.Is(err, ErrHasDefault), errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrStoreInactive), errors.Is(err, ErrOrderMismatch):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return payments.HTTPError(err)
	}
}

// HTTPError maps loan errors for handlers in other packages.
func HTTPError(err error) error { return toHTTPError(err) }
