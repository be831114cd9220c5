package did

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
)

// Handler exposes /blockchain/did endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Resolve handles GET /blockchain/did/resolve?did=.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	did := c.Query("did")
	if did == "" {
		return fiber.NewError(http.StatusBadRequest, "did query parameter is required")
	}
	doc, err := h.service.Resolve(c.UserContext(), did)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, doc)
}

// Mine handles GET /blockchain/did.
func (h *Handler) Mine(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	doc, err := h.service.Mine(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, doc)
}

type createRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	PublicKey string `json:"public_key" validate:"required"`
}

// Create handles POST /blockchain/did/create.
func (h *Handler) Create(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	doc, err := h.service.Create(c.UserContext(), CreateInput{UserID: uid, AccountID: req.AccountID, PublicKeyHex: req.PublicKey})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, doc, "did created")
}

type updateRequest struct {
	DID         string            `json:"did" validate:"required"`
	Keys        []KeyInput        `json:"verification_methods" validate:"dive"`
	Services    []ServiceEndpoint `json:"services" validate:"dive"`
	AlsoKnownAs []string          `json:"also_known_as"`
}

// Update handles PUT /blockchain/did/update.
func (h *Handler) Update(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	doc, err := h.service.Update(c.UserContext(), UpdateInput{
		UserID: uid, DID: req.DID, Keys: req.Keys, Services: req.Services, AlsoKnownAs: req.AlsoKnownAs,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, doc, "did updated")
}

type deactivateRequest struct {
	DID string `json:"did" validate:"required"`
}

// Deactivate handles POST /blockchain/did/deactivate.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req deactivateRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	if err := h.service.Deactivate(c.UserContext(), uid, req.DID); err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, nil, "did deactivated")
}

// Credentials handles GET /blockchain/did/credentials?did=.
func (h *Handler) Credentials(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	list, err := h.service.Credentials(c.UserContext(), uid, httpx.Role(c) == identity.RoleAdmin, c.Query("did"))
	if err != nil {
		return toHTTPError(err)
	}
	if list == nil {
		list = []StoredCredential{}
	}
	return httpx.OK(c, http.StatusOK, list)
}

type issueRequest struct {
	SubjectDID string         `json:"subject_did" validate:"required"`
	Types      []string       `json:"types"`
	Claims     map[string]any `json:"claims" validate:"required"`
	ExpiresAt  *time.Time     `json:"expires_at"`
}

// Issue handles POST /blockchain/did/credentials/issue (admin).
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	cred, err := h.service.Issue(c.UserContext(), IssueInput{
		SubjectDID: req.SubjectDID, Types: req.Types, Claims: req.Claims, ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, cred, "credential issued")
}

// Verify handles POST /blockchain/did/credentials/verify. The body is the credential itself.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var cred Credential
	if err := c.BodyParser(&cred); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid credential body")
	}
	result, err := h.service.Verify(c.UserContext(), cred)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, result)
}

// Revoke handles POST /blockchain/did/credentials/:id/revoke (admin).
func (h *Handler) Revoke(c *fiber.Ctx) error {
	if err := h.service.Revoke(c.UserContext(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, nil, "credential revoked")
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCredentialNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrInvalidPublicKey), errors.Is(err, ErrInvalidAccount),
		errors.Is(err, ErrInvalidCredential):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrDeactivated):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return identity.HTTPError(err)
	}
}
