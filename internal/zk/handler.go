package zk

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Handler exposes /zk endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Inputs handles POST /zk/inputs.
func (h *Handler) Inputs(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	in, err := h.service.Generate(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, in, "circuit inputs issued")
}

type submitRequest struct {
	InputsID     string   `json:"inputs_id" validate:"required"`
	Proof        string   `json:"proof" validate:"required"`
	PublicInputs []string `json:"public_inputs" validate:"required,min=1"`
}

// Submit handles POST /zk/proofs.
func (h *Handler) Submit(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	p, err := h.service.Submit(c.UserContext(), SubmitInput{
		UserID:       uid,
		InputsID:     req.InputsID,
		Proof:        req.Proof,
		PublicInputs: req.PublicInputs,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, p, "proof received")
}

// Proofs handles GET /zk/proofs.
func (h *Handler) Proofs(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	proofs, err := h.service.Proofs(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	if proofs == nil {
		proofs = []Proof{}
	}
	return httpx.OK(c, http.StatusOK, proofs)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyProven):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrExpired), errors.Is(err, ErrCommitment), errors.Is(err, ErrInvalidProof):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
