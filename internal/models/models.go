package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// OperationType identifies what kind of record a pending operation carries.
type OperationType string

const (
	OpTypeInvoice  OperationType = "invoice"
	OpTypeCustomer OperationType = "customer"
)

// OperationStatus is the lifecycle state of a pending operation.
// pending -> synced (terminal) or pending -> ... -> failed (terminal).
type OperationStatus string

const (
	StatusPending OperationStatus = "pending"
	StatusSynced  OperationStatus = "synced"
	StatusFailed  OperationStatus = "failed"
)

// Session statuses.
const (
	SessionOpen   = "Open"
	SessionClosed = "Closed"
)

// StringList stores a JSON array of strings in a single text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

// Item is a catalog item pulled from the system of record.
type Item struct {
	ItemCode    string     `gorm:"column:item_code;primaryKey" json:"item_code"`
	ItemName    string     `gorm:"index;not null" json:"item_name"`
	ItemGroup   string     `gorm:"index" json:"item_group"`
	Barcodes    StringList `gorm:"type:text" json:"barcodes"`
	Price       float64    `json:"price"`
	StockUOM    string     `gorm:"column:stock_uom" json:"stock_uom"`
	Description string     `json:"description"`
	Brand       string     `json:"brand"`
	Modified    string     `json:"modified"`
}

// ItemBarcode is one entry of an item's multi-valued barcode index.
// Rows are rewritten whenever the owning item is stored.
type ItemBarcode struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	ItemCode string `gorm:"column:item_code;index;not null" json:"item_code"`
	Barcode  string `gorm:"index;not null" json:"barcode"`
}

// Customer is keyed by the remote canonical identifier once assigned; a
// locally created customer carries a generated id until its first sync.
type Customer struct {
	Name         string    `gorm:"primaryKey" json:"name"`
	CustomerName string    `gorm:"index" json:"customer_name"`
	MobileNo     string    `gorm:"column:mobile_no;index" json:"mobile_no"`
	EmailID      string    `gorm:"column:email_id" json:"email_id"`
	CustomerType string    `json:"customer_type"`
	Synced       bool      `json:"synced"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Invoice is an offline-created sales invoice. Line items and payments are
// carried as opaque JSON; this core only round-trips them to the remote.
type Invoice struct {
	OfflineID  string          `gorm:"column:offline_id;primaryKey" json:"offline_id"`
	Customer   string          `gorm:"index" json:"customer"`
	SessionID  string          `gorm:"column:session_id" json:"session_id"`
	Items      json.RawMessage `gorm:"type:text" json:"items"`
	Payments   json.RawMessage `gorm:"type:text" json:"payments"`
	GrandTotal float64         `json:"grand_total"`
	CreatedAt  time.Time       `gorm:"index;autoCreateTime" json:"created_at"`
	Synced     bool            `json:"synced"`
	ServerName string          `gorm:"column:server_name" json:"server_name"`
	SyncedAt   *time.Time      `json:"synced_at"`
}

// PendingOperation is one unconfirmed mutation destined for the remote.
type PendingOperation struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Type        OperationType   `gorm:"index;not null" json:"type"`
	TargetID    string          `gorm:"column:target_id;index" json:"target_id"`
	Payload     json.RawMessage `gorm:"type:text" json:"payload"`
	Status      OperationStatus `gorm:"index;not null" json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	LastAttempt *time.Time      `json:"last_attempt"`
	SyncedAt    *time.Time      `json:"synced_at"`
}

// Session is a POS working session.
type Session struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	Status       string     `gorm:"index;not null" json:"status"`
	POSProfile   string     `gorm:"column:pos_profile" json:"pos_profile"`
	OpeningFloat float64    `json:"opening_float"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at"`
}

// Setting is a single named value, last write wins.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Well-known setting keys.
const (
	SettingLastSyncTime = "lastSyncTime"
	SettingPOSProfile   = "posProfile"
)

// NewOfflineID generates a device-unique identifier for an offline invoice.
func NewOfflineID() string {
	return "OFF-" + uuid.NewString()
}

// NewLocalCustomerID generates a placeholder key for a customer created
// offline, replaced by the remote canonical name on first sync.
func NewLocalCustomerID() string {
	return "LOCAL-" + uuid.NewString()
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Item{},
		&ItemBarcode{},
		&Customer{},
		&Invoice{},
		&PendingOperation{},
		&Session{},
		&Setting{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
