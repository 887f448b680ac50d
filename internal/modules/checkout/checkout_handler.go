package checkout

import (
	"errors"
	"net/http"

	"storefront-delivery/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Handler exposes fee sessions over HTTP. Clients poll GET for the current
// snapshot while a geocode is pending.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate
}

func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the checkout routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/checkout/sessions", h.CreateSession)
	g.GET("/checkout/sessions/:id", h.GetSession)
	g.DELETE("/checkout/sessions/:id", h.CloseSession)
	g.PUT("/checkout/sessions/:id/address", h.SetAddress)
	g.PUT("/checkout/sessions/:id/delivery-option", h.SetDeliveryOption)
	g.POST("/checkout/sessions/:id/save", h.Save)
	g.POST("/checkout/sessions/:id/reset", h.Reset)
	g.POST("/checkout/sessions/:id/locate", h.Locate)

	g.GET("/merchants/:merchantId/zones", h.GetZones)
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req models.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	resp, err := h.svc.CreateSession(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Merchant not found"})
		}
		c.Logger().Error("Handler.CreateSession: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to open checkout session"})
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetSession(c echo.Context) error {
	resp, err := h.svc.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) CloseSession(c echo.Context) error {
	if err := h.svc.CloseSession(c.Request().Context(), c.Param("id")); err != nil {
		return sessionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetAddress replaces the address and answers immediately; the fee arrives
// on a later GET once the debounce and geocode have run.
func (h *Handler) SetAddress(c echo.Context) error {
	var req models.SetAddressRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	resp, err := h.svc.SetAddress(c.Request().Context(), c.Param("id"), req.Address())
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) SetDeliveryOption(c echo.Context) error {
	var req models.DeliveryOptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	resp, err := h.svc.SetDeliveryOption(c.Request().Context(), c.Param("id"), req.Option)
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Save confirms the fee. Outcomes that cannot be saved are 422 with the
// customer-facing reason.
func (h *Handler) Save(c echo.Context) error {
	quote, err := h.svc.Save(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, quote)
}

func (h *Handler) Reset(c echo.Context) error {
	resp, err := h.svc.Reset(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Locate(c echo.Context) error {
	var req models.LocateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	addr, err := h.svc.Locate(c.Request().Context(), c.Param("id"), models.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude})
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, addr)
}

func (h *Handler) GetZones(c echo.Context) error {
	resp, err := h.svc.ZoneTable(c.Request().Context(), c.Param("merchantId"))
	if err != nil {
		c.Logger().Error("Handler.GetZones: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to load zones"})
	}
	return c.JSON(http.StatusOK, resp)
}

// sessionError maps session and resolution errors to a status code.
func sessionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrSessionClosed):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Checkout session not found"})
	case errors.Is(err, models.ErrInvalidCoordinates), errors.Is(err, models.ErrInvalidDeliveryOption):
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
	case errors.Is(err, models.ErrResolutionPending):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: err.Error()})
	case errors.Is(err, models.ErrIncompleteAddress),
		errors.Is(err, models.ErrGeocodeFailed),
		errors.Is(err, models.ErrOutOfCoverage),
		errors.Is(err, models.ErrPickupSelected):
		return c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Message: err.Error()})
	}
	c.Logger().Error("checkout: ", err)
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Checkout session request failed"})
}
