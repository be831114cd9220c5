package payments

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/wallet"
)

// RepayRequest is a loan repayment submitted through a payment endpoint.
type RepayRequest struct {
	UserID     string
	LoanID     string
	Amount     int64
	Method     string
	Details    Details
	ClientTxID string
}

// LoanRepayer settles a loan instalment from a payment instruction.
type LoanRepayer interface {
	RepayLoan(ctx context.Context, req RepayRequest) (any, error)
	// HTTPError maps the repayer's errors onto HTTP statuses.
	HTTPError(err error) error
}

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
	loans   LoanRepayer
}

// NewHandler constructs a payment handler. loans may be nil, in which case
// requests carrying a loan_id are rejected.
func NewHandler(service *Service, loans LoanRepayer) *Handler {
	return &Handler{service: service, loans: loans}
}

type payRequest struct {
	Amount     int64  `json:"amount" validate:"gt=0"`
	LoanID     string `json:"loan_id" validate:"omitempty,uuid"`
	ClientTxID string `json:"client_tx_id" validate:"omitempty,max=64"`
	Details
}

var methodsByPath = map[string]string{
	"mpesa":         MethodMpesa,
	"bank-transfer": MethodBankTransfer,
	"bank_transfer": MethodBankTransfer,
	"crypto":        MethodCrypto,
	"card":          MethodCard,
	"wallet":        MethodWallet,
}

// Pay handles POST /payments/:method. With a loan_id the payment repays that
// loan; otherwise it tops up the caller's wallet.
func (h *Handler) Pay(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	method, ok := methodsByPath[c.Params("method")]
	if !ok {
		return fiber.NewError(http.StatusNotFound, ErrInvalidMethod.Error())
	}
	var req payRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	clientTxID := req.ClientTxID
	if clientTxID == "" {
		clientTxID = c.Get("Idempotency-Key")
	}

	if req.LoanID != "" {
		if h.loans == nil {
			return fiber.NewError(http.StatusBadRequest, "loan repayments are not available")
		}
		res, err := h.loans.RepayLoan(c.UserContext(), RepayRequest{
			UserID:     uid,
			LoanID:     req.LoanID,
			Amount:     req.Amount,
			Method:     method,
			Details:    req.Details,
			ClientTxID: clientTxID,
		})
		if err != nil {
			if mapped := toHTTPError(err); mapped != err {
				return mapped
			}
			return h.loans.HTTPError(err)
		}
		return httpx.OK(c, http.StatusCreated, res, "repayment received")
	}

	payment, err := h.service.TopUp(c.UserContext(), TopUpInput{
		UserID:     uid,
		Method:     method,
		Amount:     req.Amount,
		Details:    req.Details,
		ClientTxID: clientTxID,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return httpx.OK(c, http.StatusOK, payment, "payment already processed")
	}
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, payment, "wallet topped up")
}

// List returns the caller's payments.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.List(c.UserContext(), uid, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// Recent returns the caller's latest payments.
func (h *Handler) Recent(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	items, err := h.service.Recent(c.UserContext(), uid, c.QueryInt("limit", 5))
	if err != nil {
		return err
	}
	if items == nil {
		items = []Payment{}
	}
	return httpx.OK(c, http.StatusOK, items)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidMethod), errors.Is(err, ErrInvalidPurpose),
		errors.Is(err, ErrInvalidDetails), errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, ErrDeclined):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return fiber.NewError(http.StatusConflict, "duplicate transaction")
	case errors.Is(err, wallet.ErrNotFound), errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}

// HTTPError maps payment errors for handlers in other packages.
func HTTPError(err error) error { return toHTTPError(err) }
