package handlers

import (
	"encoding/json"
	"net/http"

	"example.com/smartpos/services/pos/internal/models"
	"example.com/smartpos/services/pos/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// POSHandler handles the UI shell's local write path: invoices, customers
// and working sessions. Writes land in the local store and the pending
// queue; nothing here touches the network.
type POSHandler struct {
	syncService *services.SyncService
}

// NewPOSHandler creates a new POS handler
func NewPOSHandler(syncService *services.SyncService) *POSHandler {
	return &POSHandler{syncService: syncService}
}

// InvoiceRequest represents an incoming invoice from the UI shell
type InvoiceRequest struct {
	Customer   string          `json:"customer" binding:"required"`
	SessionID  string          `json:"session_id"`
	Items      json.RawMessage `json:"items" binding:"required"`
	Payments   json.RawMessage `json:"payments"`
	GrandTotal float64         `json:"grand_total"`
}

// HandleCreateInvoice stores an invoice and queues it for sync
func (h *POSHandler) HandleCreateInvoice(c *gin.Context) {
	var req InvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid invoice request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invoice := &models.Invoice{
		Customer:   req.Customer,
		SessionID:  req.SessionID,
		Items:      req.Items,
		Payments:   req.Payments,
		GrandTotal: req.GrandTotal,
	}
	if err := h.syncService.CreateInvoice(c.Request.Context(), invoice); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, invoice)
}

// CustomerRequest represents an incoming customer from the UI shell
type CustomerRequest struct {
	CustomerName string `json:"customer_name" binding:"required"`
	MobileNo     string `json:"mobile_no"`
	EmailID      string `json:"email_id"`
	CustomerType string `json:"customer_type"`
}

// HandleCreateCustomer stores a customer under a local key and queues it
func (h *POSHandler) HandleCreateCustomer(c *gin.Context) {
	var req CustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid customer request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customer := &models.Customer{
		CustomerName: req.CustomerName,
		MobileNo:     req.MobileNo,
		EmailID:      req.EmailID,
		CustomerType: req.CustomerType,
	}
	if err := h.syncService.CreateCustomer(c.Request.Context(), customer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, customer)
}

// HandleListItems returns catalog items, optionally filtered by q (substring
// over code, name and barcodes), group or barcode.
func (h *POSHandler) HandleListItems(c *gin.Context) {
	ctx := c.Request.Context()
	items := h.syncService.Items()

	var (
		result []models.Item
		err    error
	)
	switch {
	case c.Query("q") != "":
		result, err = items.Search(ctx, c.Query("q"))
	case c.Query("group") != "":
		result, err = items.GetByGroup(ctx, c.Query("group"))
	case c.Query("barcode") != "":
		result, err = items.GetByBarcode(ctx, c.Query("barcode"))
	default:
		result, err = items.GetAll(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": result, "count": len(result)})
}

// HandleListCustomers returns customers, optionally filtered by mobile number.
func (h *POSHandler) HandleListCustomers(c *gin.Context) {
	ctx := c.Request.Context()
	customers := h.syncService.Customers()

	var (
		result []models.Customer
		err    error
	)
	if mobile := c.Query("mobile"); mobile != "" {
		result, err = customers.GetByMobile(ctx, mobile)
	} else {
		result, err = customers.GetAll(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"customers": result, "count": len(result)})
}

// SessionRequest represents a session open request
type SessionRequest struct {
	POSProfile   string  `json:"pos_profile"`
	OpeningFloat float64 `json:"opening_float"`
}

// HandleOpenSession opens a working session
func (h *POSHandler) HandleOpenSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.syncService.OpenSession(c.Request.Context(), req.POSProfile, req.OpeningFloat)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// HandleCloseSession closes a working session by id
func (h *POSHandler) HandleCloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.syncService.CloseSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": id})
}

// RegisterRoutes registers the handler's routes
func (h *POSHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/invoices", h.HandleCreateInvoice)
	router.POST("/customers", h.HandleCreateCustomer)
	router.GET("/items", h.HandleListItems)
	router.GET("/customers", h.HandleListCustomers)
	router.POST("/sessions", h.HandleOpenSession)
	router.POST("/sessions/:id/close", h.HandleCloseSession)
}
