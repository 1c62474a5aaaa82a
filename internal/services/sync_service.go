package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"example.com/smartpos/services/pos/config"
	"example.com/smartpos/services/pos/internal/events"
	"example.com/smartpos/services/pos/internal/metrics"
	"example.com/smartpos/services/pos/internal/models"
	"example.com/smartpos/services/pos/internal/remote"
	"example.com/smartpos/services/pos/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ConnectivityState reports whether the remote is currently reachable.
type ConnectivityState interface {
	IsOnline() bool
}

// SyncService orchestrates the push and pull phases of synchronization and
// owns the offline write path (invoices, customers, sessions).
type SyncService struct {
	db        *gorm.DB
	items     *repositories.ItemRepository
	customers *repositories.CustomerRepository
	invoices  *repositories.InvoiceRepository
	queue     *repositories.PendingOperationRepository
	sessions  *repositories.SessionRepository
	settings  *repositories.SettingRepository

	remote  remote.Client
	monitor ConnectivityState
	bus     *events.Bus
	metrics *metrics.Metrics

	retryDelay time.Duration

	// syncing enforces at most one cycle in flight. The flag must be taken
	// before the first storage or network operation of a cycle.
	syncing atomic.Bool
}

// NewSyncService creates a new sync service
func NewSyncService(
	db *gorm.DB,
	remoteClient remote.Client,
	monitor ConnectivityState,
	bus *events.Bus,
	m *metrics.Metrics,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		db:         db,
		items:      repositories.NewItemRepository(db),
		customers:  repositories.NewCustomerRepository(db),
		invoices:   repositories.NewInvoiceRepository(db),
		queue:      repositories.NewPendingOperationRepository(db, cfg.MaxRetries),
		sessions:   repositories.NewSessionRepository(db),
		settings:   repositories.NewSettingRepository(db),
		remote:     remoteClient,
		monitor:    monitor,
		bus:        bus,
		metrics:    m,
		retryDelay: cfg.RetryDelay,
	}
}

// Items exposes the catalog repository to callers outside the sync path.
func (s *SyncService) Items() *repositories.ItemRepository { return s.items }

// Customers exposes the customer repository.
func (s *SyncService) Customers() *repositories.CustomerRepository { return s.customers }

// Invoices exposes the invoice repository.
func (s *SyncService) Invoices() *repositories.InvoiceRepository { return s.invoices }

// Queue exposes the pending operation queue.
func (s *SyncService) Queue() *repositories.PendingOperationRepository { return s.queue }

// Settings exposes the settings repository.
func (s *SyncService) Settings() *repositories.SettingRepository { return s.settings }

// IsSyncing reports whether a cycle is currently in flight.
func (s *SyncService) IsSyncing() bool {
	return s.syncing.Load()
}

// CreateInvoice stores a locally created invoice and enqueues it for sync.
// The two writes are individually atomic; ReconcileQueue covers the window
// between them after a crash.
func (s *SyncService) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	if err := s.invoices.Create(ctx, invoice); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, models.OpTypeInvoice, invoice.OfflineID, invoice); err != nil {
		return err
	}

	log.Info().
		Str("offline_id", invoice.OfflineID).
		Str("customer", invoice.Customer).
		Msg("Invoice stored for sync")

	return nil
}

// CreateCustomer stores a locally created customer under a generated key and
// enqueues it for sync. The remote assigns the canonical name on acceptance.
func (s *SyncService) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if customer.Name == "" {
		customer.Name = models.NewLocalCustomerID()
	}
	customer.Synced = false

	if err := s.customers.Save(ctx, customer); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, models.OpTypeCustomer, customer.Name, customer); err != nil {
		return err
	}

	log.Info().
		Str("name", customer.Name).
		Str("customer_name", customer.CustomerName).
		Msg("Customer stored for sync")

	return nil
}

// OpenSession opens a POS working session.
func (s *SyncService) OpenSession(ctx context.Context, profile string, openingFloat float64) (*models.Session, error) {
	active, err := s.sessions.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errors.Errorf("session %s is already open", active.ID)
	}

	session := &models.Session{
		ID:           uuid.NewString(),
		Status:       models.SessionOpen,
		POSProfile:   profile,
		OpeningFloat: openingFloat,
		OpenedAt:     time.Now(),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CloseSession closes an open POS session.
func (s *SyncService) CloseSession(ctx context.Context, id string) error {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return errors.Errorf("no session with id %s", id)
	}
	now := time.Now()
	session.Status = models.SessionClosed
	session.ClosedAt = &now
	return s.sessions.Save(ctx, session)
}

// SyncAll runs a full cycle: push pending invoices, push pending customers,
// pull the master-data delta. It refuses immediately when offline or when
// another cycle is in flight.
func (s *SyncService) SyncAll(ctx context.Context) events.SyncResult {
	if !s.monitor.IsOnline() {
		return events.SyncResult{Reason: events.ReasonOfflineOrBusy}
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return events.SyncResult{Reason: events.ReasonOfflineOrBusy}
	}
	defer s.syncing.Store(false)

	s.bus.Publish(events.SyncStarted{})
	log.Info().Msg("Starting full sync cycle")

	var result events.SyncResult

	invoices, err := s.pushInvoices(ctx)
	result.Invoices = invoices
	if err != nil {
		s.failCycle(err)
		return result
	}

	customers, err := s.pushCustomers(ctx)
	result.Customers = customers
	if err != nil {
		s.failCycle(err)
		return result
	}

	result.MasterData = s.downloadMasterData(ctx)
	result.Success = true

	s.recordPendingGauges(ctx)
	s.bus.Publish(events.SyncCompleted{Result: result})
	log.Info().
		Int("invoices_synced", result.Invoices.Success).
		Int("invoices_failed", result.Invoices.Failed).
		Int("customers_synced", result.Customers.Success).
		Int("customers_failed", result.Customers.Failed).
		Bool("master_data", result.MasterData).
		Msg("Full sync completed")

	return result
}

// SyncPending runs a push-only cycle, used by the periodic timer to avoid
// needless master-data refreshes.
func (s *SyncService) SyncPending(ctx context.Context) events.SyncResult {
	if !s.monitor.IsOnline() {
		return events.SyncResult{Reason: events.ReasonOfflineOrBusy}
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return events.SyncResult{Reason: events.ReasonOfflineOrBusy}
	}
	defer s.syncing.Store(false)

	var result events.SyncResult

	invoices, err := s.pushInvoices(ctx)
	result.Invoices = invoices
	if err != nil {
		s.failCycle(err)
		return result
	}

	customers, err := s.pushCustomers(ctx)
	result.Customers = customers
	if err != nil {
		s.failCycle(err)
		return result
	}

	result.Success = true
	s.recordPendingGauges(ctx)
	return result
}

// ForceFullSync clears the last-sync timestamp so the next pull requests the
// complete dataset, then runs a full cycle.
func (s *SyncService) ForceFullSync(ctx context.Context) (events.SyncResult, error) {
	if err := s.settings.ClearLastSyncTime(ctx); err != nil {
		return events.SyncResult{}, err
	}
	return s.SyncAll(ctx), nil
}

func (s *SyncService) failCycle(err error) {
	log.Error().Err(err).Msg("Sync cycle failed")
	s.metrics.IncrementCounter("sync.cycle.errors")
	s.bus.Publish(events.SyncFailed{Err: err})
}

// pushInvoices drains pending invoice operations. Per-record failures are
// contained: they increment the operation's attempt count and the loop moves
// on. Only storage-level failures propagate.
func (s *SyncService) pushInvoices(ctx context.Context) (events.PushCounts, error) {
	var counts events.PushCounts

	ops, err := s.queue.ListPendingOfType(ctx, models.OpTypeInvoice)
	if err != nil {
		return counts, err
	}
	log.Debug().Int("count", len(ops)).Msg("Pushing pending invoices")

	for _, op := range ops {
		if s.gated(op) {
			continue
		}

		invoice, err := s.invoices.Get(ctx, op.TargetID)
		if err != nil {
			return counts, err
		}
		if invoice == nil {
			// Record deleted locally after enqueue; replay the snapshot.
			invoice = &models.Invoice{}
			if err := json.Unmarshal(op.Payload, invoice); err != nil {
				if err := s.queue.MarkFailed(ctx, op.ID, "undecodable payload"); err != nil {
					return counts, err
				}
				counts.Failed++
				continue
			}
		}

		result, err := s.remote.CreateInvoice(ctx, invoice)
		if err != nil {
			counts.Failed++
			s.metrics.IncrementCounter("sync.invoices.failed")
			log.Warn().Err(err).Str("offline_id", op.TargetID).Msg("Invoice push failed")
			if err := s.queue.MarkFailed(ctx, op.ID, err.Error()); err != nil {
				return counts, err
			}
			continue
		}

		if !result.Accepted() {
			counts.Failed++
			s.metrics.IncrementCounter("sync.invoices.failed")
			log.Warn().
				Str("offline_id", op.TargetID).
				Str("message", result.Message).
				Msg("Invoice rejected by remote")
			if err := s.queue.MarkFailed(ctx, op.ID, result.Message); err != nil {
				return counts, err
			}
			continue
		}

		if err := s.invoices.MarkSynced(ctx, op.TargetID, result.Name); err != nil {
			return counts, err
		}
		if err := s.queue.MarkSynced(ctx, op.ID); err != nil {
			return counts, err
		}

		counts.Success++
		s.metrics.IncrementCounter("sync.invoices.pushed")
		s.bus.Publish(events.InvoiceSynced{OfflineID: op.TargetID, ServerName: result.Name})
		log.Info().
			Str("offline_id", op.TargetID).
			Str("server_name", result.Name).
			Msg("Invoice synced")
	}

	return counts, nil
}

// pushCustomers drains pending customer operations. On acceptance the local
// record is rekeyed to the remote-assigned canonical name.
func (s *SyncService) pushCustomers(ctx context.Context) (events.PushCounts, error) {
	var counts events.PushCounts

	ops, err := s.queue.ListPendingOfType(ctx, models.OpTypeCustomer)
	if err != nil {
		return counts, err
	}
	log.Debug().Int("count", len(ops)).Msg("Pushing pending customers")

	for _, op := range ops {
		if s.gated(op) {
			continue
		}

		customer, err := s.customers.Get(ctx, op.TargetID)
		if err != nil {
			return counts, err
		}
		submission := customer
		if submission == nil {
			// Record deleted locally after enqueue; replay the snapshot.
			submission = &models.Customer{}
			if err := json.Unmarshal(op.Payload, submission); err != nil {
				if err := s.queue.MarkFailed(ctx, op.ID, "undecodable payload"); err != nil {
					return counts, err
				}
				counts.Failed++
				continue
			}
		}

		result, err := s.remote.CreateCustomer(ctx, submission)
		if err != nil {
			counts.Failed++
			s.metrics.IncrementCounter("sync.customers.failed")
			log.Warn().Err(err).Str("name", op.TargetID).Msg("Customer push failed")
			if err := s.queue.MarkFailed(ctx, op.ID, err.Error()); err != nil {
				return counts, err
			}
			continue
		}

		if result.Name == "" {
			counts.Failed++
			s.metrics.IncrementCounter("sync.customers.failed")
			if err := s.queue.MarkFailed(ctx, op.ID, "remote returned no canonical name"); err != nil {
				return counts, err
			}
			continue
		}

		if customer != nil {
			if result.Name == customer.Name {
				customer.Synced = true
				if err := s.customers.Save(ctx, customer); err != nil {
					return counts, err
				}
			} else if err := s.customers.Rekey(ctx, customer.Name, result.Name); err != nil {
				return counts, err
			}
		}
		if err := s.queue.MarkSynced(ctx, op.ID); err != nil {
			return counts, err
		}

		counts.Success++
		s.metrics.IncrementCounter("sync.customers.pushed")
		log.Info().
			Str("local_name", op.TargetID).
			Str("server_name", result.Name).
			Msg("Customer synced")
	}

	return counts, nil
}

// gated reports whether an operation was attempted too recently to retry.
// Exhausted operations never reach here; ListPending excludes them.
func (s *SyncService) gated(op models.PendingOperation) bool {
	return s.retryDelay > 0 && op.LastAttempt != nil && time.Since(*op.LastAttempt) < s.retryDelay
}

// downloadMasterData pulls the catalog delta since the last successful sync
// and persists it before recording the new timestamp, so a crash in between
// causes a harmless re-pull rather than a missed update. Failures are
// contained; the cycle itself continues.
func (s *SyncService) downloadMasterData(ctx context.Context) bool {
	profile, err := s.settings.Get(ctx, models.SettingPOSProfile)
	if err != nil {
		s.downloadFailed(err)
		return false
	}
	if profile == "" {
		log.Warn().Msg("No POS profile set, skipping master data download")
		return false
	}

	s.bus.Publish(events.DownloadStarted{})

	lastSync, err := s.settings.LastSyncTime(ctx)
	if err != nil {
		s.downloadFailed(err)
		return false
	}

	data, err := s.remote.FetchMasterData(ctx, profile, lastSync)
	if err != nil {
		s.metrics.SetHealth("remote", false)
		s.downloadFailed(err)
		return false
	}
	s.metrics.SetHealth("remote", true)

	if err := s.items.SaveAll(ctx, data.Items); err != nil {
		s.downloadFailed(err)
		return false
	}

	// Catalog customers arriving from the remote are authoritative and synced
	// by definition.
	for i := range data.Customers {
		data.Customers[i].Synced = true
	}
	if err := s.customers.SaveAll(ctx, data.Customers); err != nil {
		s.downloadFailed(err)
		return false
	}

	// The timestamp moves only after the delta is fully persisted.
	if err := s.settings.SetLastSyncTime(ctx, data.SyncTimestamp); err != nil {
		s.downloadFailed(err)
		return false
	}

	s.bus.Publish(events.DownloadCompleted{Items: len(data.Items), Customers: len(data.Customers)})
	log.Info().
		Int("items", len(data.Items)).
		Int("customers", len(data.Customers)).
		Str("sync_timestamp", data.SyncTimestamp).
		Msg("Master data downloaded")

	return true
}

func (s *SyncService) downloadFailed(err error) {
	log.Error().Err(err).Msg("Master data download failed")
	s.metrics.IncrementCounter("sync.download.errors")
	s.bus.Publish(events.DownloadFailed{Err: err})
}

// ReconcileQueue re-enqueues unsynced invoices and customers that lost their
// pending operation, closing the crash window between the record write and
// the enqueue. Run once at startup.
func (s *SyncService) ReconcileQueue(ctx context.Context) (int, error) {
	reenqueued := 0

	invoices, err := s.invoices.ListUnsynced(ctx)
	if err != nil {
		return 0, err
	}
	for i := range invoices {
		has, err := s.queue.HasOperationFor(ctx, models.OpTypeInvoice, invoices[i].OfflineID)
		if err != nil {
			return reenqueued, err
		}
		if has {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, models.OpTypeInvoice, invoices[i].OfflineID, &invoices[i]); err != nil {
			return reenqueued, err
		}
		reenqueued++
		log.Warn().Str("offline_id", invoices[i].OfflineID).Msg("Re-enqueued orphaned invoice")
	}

	customers, err := s.customers.ListUnsynced(ctx)
	if err != nil {
		return reenqueued, err
	}
	for i := range customers {
		has, err := s.queue.HasOperationFor(ctx, models.OpTypeCustomer, customers[i].Name)
		if err != nil {
			return reenqueued, err
		}
		if has {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, models.OpTypeCustomer, customers[i].Name, &customers[i]); err != nil {
			return reenqueued, err
		}
		reenqueued++
		log.Warn().Str("name", customers[i].Name).Msg("Re-enqueued orphaned customer")
	}

	return reenqueued, nil
}

// SyncStatus is a read-only snapshot of the sync subsystem.
type SyncStatus struct {
	Online           bool                       `json:"online"`
	Syncing          bool                       `json:"syncing"`
	PendingInvoices  int                        `json:"pending_invoices"`
	PendingCustomers int                        `json:"pending_customers"`
	TotalPending     int                        `json:"total_pending"`
	FailedOperations int                        `json:"failed_operations"`
	LastSync         string                     `json:"last_sync"`
	ActiveSession    string                     `json:"active_session,omitempty"`
	Storage          *repositories.StorageStats `json:"storage"`
}

// Status assembles the current sync status snapshot.
func (s *SyncService) Status(ctx context.Context) (*SyncStatus, error) {
	invoices, err := s.invoices.ListUnsynced(ctx)
	if err != nil {
		return nil, err
	}
	customers, err := s.customers.ListUnsynced(ctx)
	if err != nil {
		return nil, err
	}
	opCounts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	lastSync, err := s.settings.LastSyncTime(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := repositories.CollectStats(ctx, s.db)
	if err != nil {
		return nil, err
	}

	status := &SyncStatus{
		Online:           s.monitor.IsOnline(),
		Syncing:          s.syncing.Load(),
		PendingInvoices:  len(invoices),
		PendingCustomers: len(customers),
		TotalPending:     len(invoices) + len(customers),
		FailedOperations: opCounts[models.StatusFailed],
		LastSync:         lastSync,
		Storage:          storage,
	}

	session, err := s.sessions.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if session != nil {
		status.ActiveSession = session.ID
	}

	return status, nil
}

func (s *SyncService) recordPendingGauges(ctx context.Context) {
	invoices, err := s.invoices.ListUnsynced(ctx)
	if err == nil {
		s.metrics.SetGauge("pending.invoices", int64(len(invoices)))
	}
	customers, err := s.customers.ListUnsynced(ctx)
	if err == nil {
		s.metrics.SetGauge("pending.customers", int64(len(customers)))
	}
}
