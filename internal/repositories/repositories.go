package repositories

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"example.com/smartpos/services/pos/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMissingKey is returned when a record lacks its declared primary key.
// This is a programming error on the caller's side and must not be retried.
var ErrMissingKey = errors.New("record is missing its primary key")

// upsert is a full overwrite by primary key, no partial-field merge.
var upsert = clause.OnConflict{UpdateAll: true}

// ItemRepository provides access to the local catalog.
//
// Barcode lookups go through the item_barcodes index table, which is rewritten
// on every save so an item's entries always mirror its barcodes field.
type ItemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Save inserts or overwrites an item by item_code.
func (r *ItemRepository) Save(ctx context.Context, item *models.Item) error {
	if item.ItemCode == "" {
		return errors.Wrap(ErrMissingKey, "items")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveItemTx(tx, item)
	})
}

// SaveAll writes every item in a single transaction; a partial-write state is
// never observable to readers.
func (r *ItemRepository) SaveAll(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range items {
			if items[i].ItemCode == "" {
				return errors.Wrap(ErrMissingKey, "items")
			}
			if err := saveItemTx(tx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveItemTx(tx *gorm.DB, item *models.Item) error {
	if err := tx.Clauses(upsert).Create(item).Error; err != nil {
		return errors.Wrap(err, "failed to save item")
	}
	if err := tx.Where("item_code = ?", item.ItemCode).Delete(&models.ItemBarcode{}).Error; err != nil {
		return errors.Wrap(err, "failed to reset barcode index")
	}
	for _, code := range item.Barcodes {
		entry := models.ItemBarcode{ItemCode: item.ItemCode, Barcode: code}
		if err := tx.Create(&entry).Error; err != nil {
			return errors.Wrap(err, "failed to index barcode")
		}
	}
	return nil
}

// GetByCode gets an item by its code, nil when absent.
func (r *ItemRepository) GetByCode(ctx context.Context, code string) (*models.Item, error) {
	var item models.Item
	err := r.db.WithContext(ctx).Where("item_code = ?", code).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get item")
	}
	return &item, nil
}

// GetAll returns the catalog in insertion order.
func (r *ItemRepository) GetAll(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := r.db.WithContext(ctx).Order("rowid").Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list items")
	}
	return items, nil
}

// GetByGroup returns all items of an item group via its index.
func (r *ItemRepository) GetByGroup(ctx context.Context, group string) ([]models.Item, error) {
	var items []models.Item
	err := r.db.WithContext(ctx).Where("item_group = ?", group).Order("rowid").Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get items by group")
	}
	return items, nil
}

// GetByBarcode returns every item carrying the barcode. The barcode index is
// multi-valued: an item matches when any of its entries equals the value.
func (r *ItemRepository) GetByBarcode(ctx context.Context, barcode string) ([]models.Item, error) {
	var items []models.Item
	err := r.db.WithContext(ctx).
		Joins("JOIN item_barcodes ON item_barcodes.item_code = items.item_code").
		Where("item_barcodes.barcode = ?", barcode).
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get items by barcode")
	}
	return items, nil
}

// Search scans the catalog for a case-insensitive substring match on code,
// name or barcodes. Substring matching cannot use the indexes.
func (r *ItemRepository) Search(ctx context.Context, query string) ([]models.Item, error) {
	items, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var matched []models.Item
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.ItemCode), q) ||
			strings.Contains(strings.ToLower(item.ItemName), q) {
			matched = append(matched, item)
			continue
		}
		for _, code := range item.Barcodes {
			if strings.Contains(strings.ToLower(code), q) {
				matched = append(matched, item)
				break
			}
		}
	}
	return matched, nil
}

// Clear removes the whole catalog including its barcode index.
func (r *ItemRepository) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ItemBarcode{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear barcode index")
		}
		if err := tx.Where("1 = 1").Delete(&models.Item{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear items")
		}
		return nil
	})
}

// CustomerRepository provides access to customer data
type CustomerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Save inserts or overwrites a customer by name.
func (r *CustomerRepository) Save(ctx context.Context, customer *models.Customer) error {
	if customer.Name == "" {
		return errors.Wrap(ErrMissingKey, "customers")
	}
	err := r.db.WithContext(ctx).Clauses(upsert).Create(customer).Error
	return errors.Wrap(err, "failed to save customer")
}

// SaveAll writes every customer in a single transaction.
func (r *CustomerRepository) SaveAll(ctx context.Context, customers []models.Customer) error {
	if len(customers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range customers {
			if customers[i].Name == "" {
				return errors.Wrap(ErrMissingKey, "customers")
			}
			if err := tx.Clauses(upsert).Create(&customers[i]).Error; err != nil {
				return errors.Wrap(err, "failed to save customer")
			}
		}
		return nil
	})
}

// Get gets a customer by name, nil when absent.
func (r *CustomerRepository) Get(ctx context.Context, name string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get customer")
	}
	return &customer, nil
}

// GetAll returns all customers in insertion order.
func (r *CustomerRepository) GetAll(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.WithContext(ctx).Order("rowid").Find(&customers).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list customers")
	}
	return customers, nil
}

// GetByMobile returns customers matching a mobile number via its index.
func (r *CustomerRepository) GetByMobile(ctx context.Context, mobile string) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.WithContext(ctx).Where("mobile_no = ?", mobile).Find(&customers).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get customers by mobile")
	}
	return customers, nil
}

// ListUnsynced returns locally created customers awaiting remote confirmation.
// The synced flag is boolean, so this is a predicate scan, not an index query.
func (r *CustomerRepository) ListUnsynced(ctx context.Context) ([]models.Customer, error) {
	customers, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var unsynced []models.Customer
	for _, c := range customers {
		if !c.Synced {
			unsynced = append(unsynced, c)
		}
	}
	return unsynced, nil
}

// Rekey replaces a customer's local key with the remote canonical name and
// marks it synced, in one transaction.
func (r *CustomerRepository) Rekey(ctx context.Context, localName, remoteName string) error {
	if remoteName == "" {
		return errors.Wrap(ErrMissingKey, "customers")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		if err := tx.Where("name = ?", localName).First(&customer).Error; err != nil {
			return errors.Wrap(err, "failed to load customer for rekey")
		}
		if err := tx.Where("name = ?", localName).Delete(&models.Customer{}).Error; err != nil {
			return errors.Wrap(err, "failed to remove local customer row")
		}
		customer.Name = remoteName
		customer.Synced = true
		if err := tx.Clauses(upsert).Create(&customer).Error; err != nil {
			return errors.Wrap(err, "failed to store customer under canonical name")
		}
		return nil
	})
}

// Delete removes a customer by name.
func (r *CustomerRepository) Delete(ctx context.Context, name string) error {
	err := r.db.WithContext(ctx).Where("name = ?", name).Delete(&models.Customer{}).Error
	return errors.Wrap(err, "failed to delete customer")
}

// InvoiceRepository provides access to offline invoices.
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create stores a new locally created invoice. A missing offline id is
// assigned; the synced flag always starts false.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice.OfflineID == "" {
		invoice.OfflineID = models.NewOfflineID()
	}
	invoice.Synced = false
	invoice.ServerName = ""
	invoice.SyncedAt = nil
	err := r.db.WithContext(ctx).Clauses(upsert).Create(invoice).Error
	return errors.Wrap(err, "failed to create invoice")
}

// Save inserts or overwrites an invoice by offline_id.
func (r *InvoiceRepository) Save(ctx context.Context, invoice *models.Invoice) error {
	if invoice.OfflineID == "" {
		return errors.Wrap(ErrMissingKey, "invoices")
	}
	err := r.db.WithContext(ctx).Clauses(upsert).Create(invoice).Error
	return errors.Wrap(err, "failed to save invoice")
}

// Get gets an invoice by offline id, nil when absent.
func (r *InvoiceRepository) Get(ctx context.Context, offlineID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Where("offline_id = ?", offlineID).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get invoice")
	}
	return &invoice, nil
}

// GetAll returns all invoices in insertion order.
func (r *InvoiceRepository) GetAll(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).Order("rowid").Find(&invoices).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list invoices")
	}
	return invoices, nil
}

// ListUnsynced returns invoices not yet confirmed by the remote.
// Boolean filtering is done here, not in an index query.
func (r *InvoiceRepository) ListUnsynced(ctx context.Context) ([]models.Invoice, error) {
	invoices, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var unsynced []models.Invoice
	for _, inv := range invoices {
		if !inv.Synced {
			unsynced = append(unsynced, inv)
		}
	}
	return unsynced, nil
}

// MarkSynced records remote acceptance of an invoice.
func (r *InvoiceRepository) MarkSynced(ctx context.Context, offlineID, serverName string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("offline_id = ?", offlineID).
		Updates(map[string]interface{}{
			"synced":      true,
			"server_name": serverName,
			"synced_at":   &now,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark invoice synced")
	}
	if result.RowsAffected == 0 {
		return errors.Errorf("no invoice with offline_id %s", offlineID)
	}
	return nil
}

// Delete removes an invoice by offline id.
func (r *InvoiceRepository) Delete(ctx context.Context, offlineID string) error {
	err := r.db.WithContext(ctx).Where("offline_id = ?", offlineID).Delete(&models.Invoice{}).Error
	return errors.Wrap(err, "failed to delete invoice")
}

// PendingOperationRepository is the queue of remote-bound mutations. It is a
// view over the pending_operations collection, not separately owned state.
type PendingOperationRepository struct {
	db         *gorm.DB
	maxRetries int
}

// NewPendingOperationRepository creates a new queue repository. maxRetries is
// the attempt count at which an operation becomes terminally failed.
func NewPendingOperationRepository(db *gorm.DB, maxRetries int) *PendingOperationRepository {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &PendingOperationRepository{db: db, maxRetries: maxRetries}
}

// Enqueue persists a new pending operation and returns its id.
func (r *PendingOperationRepository) Enqueue(ctx context.Context, opType models.OperationType, targetID string, payload interface{}) (uint, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode operation payload")
	}
	op := models.PendingOperation{
		Type:     opType,
		TargetID: targetID,
		Payload:  raw,
		Status:   models.StatusPending,
	}
	if err := r.db.WithContext(ctx).Create(&op).Error; err != nil {
		return 0, errors.Wrap(err, "failed to enqueue operation")
	}
	return op.ID, nil
}

// Get returns an operation by id, nil when absent.
func (r *PendingOperationRepository) Get(ctx context.Context, id uint) (*models.PendingOperation, error) {
	var op models.PendingOperation
	err := r.db.WithContext(ctx).First(&op, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get operation")
	}
	return &op, nil
}

// ListPending returns operations awaiting sync, oldest first. Status is a
// discrete enum, so the positive equality query goes through its index;
// terminally synced operations accumulate and must not be loaded. Boolean
// and negative filters elsewhere stay predicate scans.
func (r *PendingOperationRepository) ListPending(ctx context.Context) ([]models.PendingOperation, error) {
	var pending []models.PendingOperation
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("id").
		Find(&pending).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending operations")
	}
	return pending, nil
}

// ListPendingOfType returns pending operations of one type, oldest first.
func (r *PendingOperationRepository) ListPendingOfType(ctx context.Context, opType models.OperationType) ([]models.PendingOperation, error) {
	pending, err := r.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var filtered []models.PendingOperation
	for _, op := range pending {
		if op.Type == opType {
			filtered = append(filtered, op)
		}
	}
	return filtered, nil
}

// CountPending returns the number of operations awaiting sync.
func (r *PendingOperationRepository) CountPending(ctx context.Context) (int, error) {
	pending, err := r.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// MarkSynced transitions an operation to its successful terminal state.
func (r *PendingOperationRepository) MarkSynced(ctx context.Context, id uint) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":    models.StatusSynced,
			"synced_at": &now,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark operation synced")
	}
	if result.RowsAffected == 0 {
		return errors.Errorf("no pending operation with id %d", id)
	}
	return nil
}

// MarkFailed records one failed attempt. Reaching the retry limit transitions
// the operation to terminal failed; it is then excluded from ListPending and
// never retried automatically.
func (r *PendingOperationRepository) MarkFailed(ctx context.Context, id uint, cause string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var op models.PendingOperation
		if err := tx.First(&op, id).Error; err != nil {
			return errors.Wrap(err, "failed to load operation")
		}
		now := time.Now()
		op.Attempts++
		op.LastError = cause
		op.LastAttempt = &now
		if op.Attempts >= r.maxRetries {
			op.Status = models.StatusFailed
		}
		if err := tx.Save(&op).Error; err != nil {
			return errors.Wrap(err, "failed to record failed attempt")
		}
		return nil
	})
}

// HasOperationFor reports whether any operation, in any state, targets the
// given record. Used by the startup reconciliation pass.
func (r *PendingOperationRepository) HasOperationFor(ctx context.Context, opType models.OperationType, targetID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Where("type = ? AND target_id = ?", opType, targetID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check for operation")
	}
	return count > 0, nil
}

// CountByStatus returns operation counts keyed by status, aggregated in the
// store rather than by loading every row.
func (r *PendingOperationRepository) CountByStatus(ctx context.Context) (map[models.OperationStatus]int, error) {
	var rows []struct {
		Status models.OperationStatus
		Count  int
	}
	err := r.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to count operations")
	}
	counts := make(map[models.OperationStatus]int)
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// RetryFailed resets terminally failed operations to pending with a fresh
// attempt budget. This is the manual intervention path; nothing calls it
// automatically.
func (r *PendingOperationRepository) RetryFailed(ctx context.Context) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Where("status = ?", models.StatusFailed).
		Updates(map[string]interface{}{
			"status":     models.StatusPending,
			"attempts":   0,
			"last_error": "",
		})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reset failed operations")
	}
	return int(result.RowsAffected), nil
}

// SessionRepository provides access to POS sessions.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save inserts or overwrites a session by id.
func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return errors.Wrap(ErrMissingKey, "sessions")
	}
	err := r.db.WithContext(ctx).Clauses(upsert).Create(session).Error
	return errors.Wrap(err, "failed to save session")
}

// Get gets a session by id, nil when absent.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	return &session, nil
}

// ActiveSession returns the open session, nil when none is open. Status is a
// discrete value, so the index query is allowed here.
func (r *SessionRepository) ActiveSession(ctx context.Context) (*models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).Where("status = ?", models.SessionOpen).Limit(1).Find(&sessions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get active session")
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// SettingRepository provides access to named settings, last write wins.
type SettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new setting repository
func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Set stores a setting value.
func (r *SettingRepository) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.Wrap(ErrMissingKey, "settings")
	}
	setting := models.Setting{Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(upsert).Create(&setting).Error
	return errors.Wrap(err, "failed to save setting")
}

// Get returns a setting value, empty when absent.
func (r *SettingRepository) Get(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get setting")
	}
	return setting.Value, nil
}

// Delete removes a setting.
func (r *SettingRepository) Delete(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{}).Error
	return errors.Wrap(err, "failed to delete setting")
}

// LastSyncTime returns the recorded timestamp of the last successful pull,
// empty when a full pull is required.
func (r *SettingRepository) LastSyncTime(ctx context.Context) (string, error) {
	return r.Get(ctx, models.SettingLastSyncTime)
}

// SetLastSyncTime records the timestamp returned by a fully persisted pull.
func (r *SettingRepository) SetLastSyncTime(ctx context.Context, ts string) error {
	return r.Set(ctx, models.SettingLastSyncTime, ts)
}

// ClearLastSyncTime forces the next pull to request the complete dataset.
func (r *SettingRepository) ClearLastSyncTime(ctx context.Context) error {
	return r.Delete(ctx, models.SettingLastSyncTime)
}

// CollectionStats is the record count of one collection.
type CollectionStats struct {
	Count int64 `json:"count"`
}

// StorageStats summarizes the local store.
type StorageStats struct {
	Collections map[string]CollectionStats `json:"collections"`
	TotalBytes  int64                      `json:"total_bytes"`
}

// CollectStats counts every collection and reports the store's size on disk.
func CollectStats(ctx context.Context, db *gorm.DB) (*StorageStats, error) {
	stats := &StorageStats{Collections: make(map[string]CollectionStats)}

	tables := map[string]interface{}{
		"items":      &models.Item{},
		"customers":  &models.Customer{},
		"invoices":   &models.Invoice{},
		"pendingOps": &models.PendingOperation{},
		"sessions":   &models.Session{},
		"settings":   &models.Setting{},
	}
	for name, model := range tables {
		var count int64
		if err := db.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
			return nil, errors.Wrapf(err, "failed to count %s", name)
		}
		stats.Collections[name] = CollectionStats{Count: count}
	}

	var pageCount, pageSize int64
	if err := db.WithContext(ctx).Raw("PRAGMA page_count").Scan(&pageCount).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read page count")
	}
	if err := db.WithContext(ctx).Raw("PRAGMA page_size").Scan(&pageSize).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read page size")
	}
	stats.TotalBytes = pageCount * pageSize

	return stats, nil
}
