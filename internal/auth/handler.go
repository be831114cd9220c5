package auth

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/siwe"
	"github.com/kelo-pay/kelo/internal/wallet"
)

// Handler exposes auth endpoints for register/login/refresh/logout and wallet sign-in.
type Handler struct {
	ids     *identity.Service
	svc     *Service
	wallets *wallet.Service
	siwe    *siwe.Verifier
}

func NewHandler(ids *identity.Service, svc *Service, wallets *wallet.Service, verifier *siwe.Verifier) *Handler {
	return &Handler{ids: ids, svc: svc, wallets: wallets, siwe: verifier}
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required,max=80"`
	LastName  string `json:"last_name" validate:"required,max=80"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
	Role      string `json:"role" validate:"omitempty,oneof=customer merchant"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	User         identity.Profile `json:"user"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresIn    int64            `json:"expires_in"`
	Redirect     string           `json:"redirect"`
	WalletID     string           `json:"wallet_id,omitempty"`
	NewAccount   bool             `json:"new_account,omitempty"`
}

func (h *Handler) session(c *fiber.Ctx, user identity.User) (sessionResponse, error) {
	pair, err := h.svc.Login(user)
	if err != nil {
		return sessionResponse{}, err
	}
	resp := sessionResponse{
		User:         user.Profile(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Redirect:     identity.RedirectFor(user.Role),
	}
	if h.wallets != nil {
		w, err := h.wallets.EnsureForOwner(c.UserContext(), user.ID)
		if err != nil {
			return sessionResponse{}, err
		}
		resp.WalletID = w.ID
	}
	return resp, nil
}

// Register creates an account with its stored-value wallet and signs it in.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	user, err := h.ids.Register(c.UserContext(), identity.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      req.Role,
	})
	if err != nil {
		return identity.HTTPError(err)
	}
	resp, err := h.session(c, user)
	if err != nil {
		return err
	}
	resp.NewAccount = true
	return httpx.OK(c, http.StatusCreated, resp, "account created")
}

// Login validates credentials and returns a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	user, err := h.ids.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return identity.HTTPError(err)
	}
	resp, err := h.session(c, user)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, resp, "signed in")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh issues a new access token using a valid refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	token, exp, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, fiber.Map{"access_token": token, "expires_in": exp})
}

// Logout invalidates the caller's tokens by bumping the token version.
func (h *Handler) Logout(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Logout(c.UserContext(), uid); err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, fiber.Map{"status": "logged_out"}, "signed out")
}

// Nonce issues a single-use sign-in nonce for ?address=.
func (h *Handler) Nonce(c *fiber.Ctx) error {
	address := c.Query("address")
	if !common.IsHexAddress(address) {
		return fiber.NewError(http.StatusBadRequest, "address must be a valid EVM address")
	}
	nonce, err := h.siwe.Nonce(c.UserContext(), common.HexToAddress(address).Hex())
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, fiber.Map{"nonce": nonce})
}

type siweRequest struct {
	Message   string `json:"message" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// Verify signs in with a signed EIP-4361 message, creating the account on first use.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req siweRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	msg, err := h.siwe.Verify(c.UserContext(), req.Message, req.Signature)
	if err != nil {
		return toHTTPError(err)
	}
	user, created, err := h.ids.FindOrCreateByWallet(c.UserContext(), msg.Address.Hex())
	if err != nil {
		return identity.HTTPError(err)
	}
	resp, err := h.session(c, user)
	if err != nil {
		return err
	}
	resp.NewAccount = created
	return httpx.OK(c, http.StatusOK, resp, "signed in")
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenRevoked):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, siwe.ErrMalformedMessage):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, siwe.ErrBadSignature), errors.Is(err, siwe.ErrInvalidNonce),
		errors.Is(err, siwe.ErrExpired), errors.Is(err, siwe.ErrNotYetValid), errors.Is(err, siwe.ErrDomainMismatch):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	default:
		return identity.HTTPError(err)
	}
}

// HTTPError maps token errors for the auth middleware.
func HTTPError(err error) error { return toHTTPError(err) }
