package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/smartpos/services/pos/config"
	"example.com/smartpos/services/pos/internal/models"

	"github.com/pkg/errors"
)

// NetworkError is a transport-level failure: the remote could not be reached
// or did not produce a usable response. Always retryable.
type NetworkError struct {
	Method string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.Method, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteError is an application-level rejection by the system of record.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote rejected %s: %s", e.Method, e.Message)
}

// Invoice submission statuses returned by the remote.
const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
	StatusError     = "error"
)

// InvoiceResult is the remote's answer to an invoice submission. A duplicate
// status means the remote already holds this offline_id from a prior attempt
// whose confirmation was lost; it is treated as acceptance.
type InvoiceResult struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Accepted reports whether the submission left the remote holding the record.
func (r *InvoiceResult) Accepted() bool {
	return r.Status == StatusSuccess || r.Status == StatusDuplicate
}

// CustomerResult is the remote's answer to a customer submission. The remote
// deduplicates by name and mobile number, so an existing customer comes back
// with its established canonical name.
type CustomerResult struct {
	Name string `json:"name"`
}

// MasterData is one master-data delta: all catalog records modified after the
// requested timestamp, plus the server-side timestamp to record once the
// delta is fully persisted.
type MasterData struct {
	Items         []models.Item     `json:"items"`
	Customers     []models.Customer `json:"customers"`
	SyncTimestamp string            `json:"sync_timestamp"`
}

// Client is the RPC boundary to the system of record.
type Client interface {
	CreateInvoice(ctx context.Context, invoice *models.Invoice) (*InvoiceResult, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) (*CustomerResult, error)
	FetchMasterData(ctx context.Context, profile, since string) (*MasterData, error)
	Ping(ctx context.Context) error
}

// Remote method names.
const (
	methodCreateInvoice  = "smart_pos.smart_pos.api.pos_api.create_pos_invoice"
	methodCreateCustomer = "smart_pos.smart_pos.api.pos_api.create_customer"
	methodMasterData     = "smart_pos.smart_pos.api.sync_api.get_master_data_for_offline"
	methodPing           = "ping"
)

// HTTPClient talks to the remote over its JSON RPC endpoint. Every call is
// bounded by the configured timeout; a timeout counts as a NetworkError for
// retry accounting.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a new remote client from configuration.
func NewHTTPClient(cfg config.RemoteConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// rpcEnvelope is the remote's response framing: the payload rides in message,
// application failures in exc.
type rpcEnvelope struct {
	Message json.RawMessage `json:"message"`
	Exc     string          `json:"exc"`
}

func (c *HTTPClient) call(ctx context.Context, method string, args interface{}, out interface{}) error {
	body, err := json.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "failed to encode RPC arguments")
	}

	url := c.baseURL + "/api/method/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build RPC request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: method, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return &NetworkError{Method: method, Err: errors.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &RemoteError{Method: method, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, data)}
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &NetworkError{Method: method, Err: errors.Wrap(err, "malformed response")}
	}
	if envelope.Exc != "" {
		return &RemoteError{Method: method, Message: envelope.Exc}
	}
	if out != nil && len(envelope.Message) > 0 {
		if err := json.Unmarshal(envelope.Message, out); err != nil {
			return &NetworkError{Method: method, Err: errors.Wrap(err, "malformed message payload")}
		}
	}
	return nil
}

// CreateInvoice submits one offline invoice.
func (c *HTTPClient) CreateInvoice(ctx context.Context, invoice *models.Invoice) (*InvoiceResult, error) {
	payload, err := json.Marshal(invoice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode invoice")
	}
	args := map[string]string{"invoice_data": string(payload)}

	var result InvoiceResult
	if err := c.call(ctx, methodCreateInvoice, args, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateCustomer submits one locally created customer.
func (c *HTTPClient) CreateCustomer(ctx context.Context, customer *models.Customer) (*CustomerResult, error) {
	customerType := customer.CustomerType
	if customerType == "" {
		customerType = "Individual"
	}
	args := map[string]string{
		"customer_name": customer.CustomerName,
		"mobile_no":     customer.MobileNo,
		"email_id":      customer.EmailID,
		"customer_type": customerType,
	}

	var result CustomerResult
	if err := c.call(ctx, methodCreateCustomer, args, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchMasterData requests catalog records modified after since; an empty
// since requests the complete dataset.
func (c *HTTPClient) FetchMasterData(ctx context.Context, profile, since string) (*MasterData, error) {
	args := map[string]string{
		"pos_profile": profile,
		"last_sync":   since,
	}

	var data MasterData
	if err := c.call(ctx, methodMasterData, args, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Ping probes remote reachability.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.call(ctx, methodPing, map[string]string{}, nil)
}
