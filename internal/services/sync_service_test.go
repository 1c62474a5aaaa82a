package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"example.com/smartpos/services/pos/config"
	"example.com/smartpos/services/pos/internal/database"
	"example.com/smartpos/services/pos/internal/events"
	"example.com/smartpos/services/pos/internal/metrics"
	"example.com/smartpos/services/pos/internal/models"
	"example.com/smartpos/services/pos/internal/remote"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRemote mocks the RPC boundary for testing
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) CreateInvoice(ctx context.Context, invoice *models.Invoice) (*remote.InvoiceResult, error) {
	args := m.Called(ctx, invoice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.InvoiceResult), args.Error(1)
}

func (m *MockRemote) CreateCustomer(ctx context.Context, customer *models.Customer) (*remote.CustomerResult, error) {
	args := m.Called(ctx, customer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.CustomerResult), args.Error(1)
}

func (m *MockRemote) FetchMasterData(ctx context.Context, profile, since string) (*remote.MasterData, error) {
	args := m.Called(ctx, profile, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.MasterData), args.Error(1)
}

func (m *MockRemote) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type stubMonitor struct {
	online bool
}

func (s *stubMonitor) IsOnline() bool { return s.online }

type fixture struct {
	service *SyncService
	remote  *MockRemote
	monitor *stubMonitor
	bus     *events.Bus
}

func newFixture(t *testing.T, cfg config.SyncConfig) *fixture {
	t.Helper()

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close(db)
	})

	remoteClient := new(MockRemote)
	monitor := &stubMonitor{online: true}
	bus := events.NewBus()
	service := NewSyncService(db, remoteClient, monitor, bus, metrics.NewMetrics(), cfg)

	return &fixture{service: service, remote: remoteClient, monitor: monitor, bus: bus}
}

func defaultSyncConfig() config.SyncConfig {
	return config.SyncConfig{Interval: 30 * time.Second, MaxRetries: 5, RetryDelay: 0}
}

func TestSyncAllRefusedWhileOffline(t *testing.T) {
	f := newFixture(t, defaultSyncConfig())
	f.monitor.online = false

	var published []events.Kind
	f.bus.Subscribe(func(e events.Event) {
		published = append(published, e.Kind())
	})

	result := f.service.SyncAll(context.Background())

	require.False(t, result.Success)
	require.Equal(t, events.ReasonOfflineOrBusy, result.Reason)
	require.Empty(t, published)
	f.remote.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
}

func TestSyncAllSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{
		OfflineID: "OFF-1",
		Customer:  "Walk-in",
	}))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.On("CreateInvoice", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&remote.InvoiceResult{Status: remote.StatusSuccess, Name: "SINV-0001"}, nil).
		Once()

	done := make(chan events.SyncResult, 1)
	go func() {
		done <- f.service.SyncAll(ctx)
	}()

	<-entered
	// A second cycle while the first holds the flag is refused
	second := f.service.SyncAll(ctx)
	require.False(t, second.Success)
	require.Equal(t, events.ReasonOfflineOrBusy, second.Reason)

	close(release)
	first := <-done
	require.True(t, first.Success)
	require.Equal(t, 1, first.Invoices.Success)

	// The flag is released once the cycle finishes
	require.False(t, f.service.IsSyncing())
}

func TestPushInvoicesMixedOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{OfflineID: "OFF-1", Customer: "Walk-in"}))
	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{OfflineID: "OFF-2", Customer: "Walk-in"}))

	f.remote.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(inv *models.Invoice) bool {
		return inv.OfflineID == "OFF-1"
	})).Return(&remote.InvoiceResult{Status: remote.StatusSuccess, Name: "SINV-0001"}, nil)
	f.remote.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(inv *models.Invoice) bool {
		return inv.OfflineID == "OFF-2"
	})).Return(nil, &remote.NetworkError{Method: "create", Err: context.DeadlineExceeded})

	result := f.service.SyncAll(ctx)

	require.True(t, result.Success)
	require.Equal(t, 1, result.Invoices.Success)
	require.Equal(t, 1, result.Invoices.Failed)

	first, err := f.service.Invoices().Get(ctx, "OFF-1")
	require.NoError(t, err)
	require.True(t, first.Synced)
	require.Equal(t, "SINV-0001", first.ServerName)

	second, err := f.service.Invoices().Get(ctx, "OFF-2")
	require.NoError(t, err)
	require.False(t, second.Synced)

	pending, err := f.service.Queue().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "OFF-2", pending[0].TargetID)
	require.Equal(t, 1, pending[0].Attempts)
}

func TestPushInvoiceDuplicateIsAcceptance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{OfflineID: "OFF-1", Customer: "Walk-in"}))

	// The remote already holds OFF-1 from an attempt whose confirmation
	// was lost
	f.remote.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&remote.InvoiceResult{Status: remote.StatusDuplicate, Name: "SINV-0001"}, nil).
		Once()

	result := f.service.SyncPending(ctx)

	require.True(t, result.Success)
	require.Equal(t, 1, result.Invoices.Success)
	require.Zero(t, result.Invoices.Failed)

	invoice, err := f.service.Invoices().Get(ctx, "OFF-1")
	require.NoError(t, err)
	require.True(t, invoice.Synced)
	require.Equal(t, "SINV-0001", invoice.ServerName)
}

func TestPushCustomerRekeysToCanonicalName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	customer := &models.Customer{CustomerName: "Jane Doe", MobileNo: "0712345678"}
	require.NoError(t, f.service.CreateCustomer(ctx, customer))
	localName := customer.Name
	require.NotEmpty(t, localName)

	f.remote.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&remote.CustomerResult{Name: "Jane Doe"}, nil).
		Once()

	result := f.service.SyncPending(ctx)

	require.True(t, result.Success)
	require.Equal(t, 1, result.Customers.Success)

	old, err := f.service.Customers().Get(ctx, localName)
	require.NoError(t, err)
	require.Nil(t, old)

	canonical, err := f.service.Customers().Get(ctx, "Jane Doe")
	require.NoError(t, err)
	require.NotNil(t, canonical)
	require.True(t, canonical.Synced)

	pending, err := f.service.Queue().ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRetryExhaustionIsTerminal(t *testing.T) {
	ctx := context.Background()
	cfg := defaultSyncConfig()
	cfg.MaxRetries = 2
	f := newFixture(t, cfg)

	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{OfflineID: "OFF-1", Customer: "Walk-in"}))

	f.remote.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(nil, &remote.NetworkError{Method: "create", Err: context.DeadlineExceeded})

	f.service.SyncPending(ctx)
	f.service.SyncPending(ctx)

	counts, err := f.service.Queue().CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.StatusFailed])

	// A failed operation never rides another cycle
	f.service.SyncPending(ctx)
	f.remote.AssertNumberOfCalls(t, "CreateInvoice", 2)
}

func TestRetryDelayGatesRecentFailures(t *testing.T) {
	ctx := context.Background()
	cfg := defaultSyncConfig()
	cfg.RetryDelay = time.Hour
	f := newFixture(t, cfg)

	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{OfflineID: "OFF-1", Customer: "Walk-in"}))

	f.remote.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(nil, &remote.NetworkError{Method: "create", Err: context.DeadlineExceeded}).
		Once()

	f.service.SyncPending(ctx)
	// The operation was just attempted; the next cycle skips it
	f.service.SyncPending(ctx)

	f.remote.AssertNumberOfCalls(t, "CreateInvoice", 1)
}

func TestDownloadPersistsDeltaBeforeTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	require.NoError(t, f.service.Settings().Set(ctx, models.SettingPOSProfile, "Main Store"))
	require.NoError(t, f.service.Settings().SetLastSyncTime(ctx, "2026-08-28 09:00:00"))

	f.remote.On("FetchMasterData", mock.Anything, "Main Store", "2026-08-28 09:00:00").
		Return(&remote.MasterData{
			Items: []models.Item{
				{ItemCode: "ITM-001", ItemName: "Cola", Barcodes: models.StringList{"111"}},
			},
			Customers: []models.Customer{
				{Name: "Jane Doe", CustomerName: "Jane Doe"},
			},
			SyncTimestamp: "2026-08-29 10:00:00",
		}, nil).
		Once()

	result := f.service.SyncAll(ctx)

	require.True(t, result.Success)
	require.True(t, result.MasterData)

	item, err := f.service.Items().GetByCode(ctx, "ITM-001")
	require.NoError(t, err)
	require.NotNil(t, item)

	customer, err := f.service.Customers().Get(ctx, "Jane Doe")
	require.NoError(t, err)
	require.NotNil(t, customer)
	require.True(t, customer.Synced)

	ts, err := f.service.Settings().LastSyncTime(ctx)
	require.NoError(t, err)
	require.Equal(t, "2026-08-29 10:00:00", ts)
}

func TestDownloadFailureKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	require.NoError(t, f.service.Settings().Set(ctx, models.SettingPOSProfile, "Main Store"))
	require.NoError(t, f.service.Settings().SetLastSyncTime(ctx, "2026-08-28 09:00:00"))

	var failed bool
	f.bus.Subscribe(func(e events.Event) {
		if e.Kind() == events.KindDownloadFailed {
			failed = true
		}
	})

	f.remote.On("FetchMasterData", mock.Anything, "Main Store", "2026-08-28 09:00:00").
		Return(nil, &remote.NetworkError{Method: "master", Err: context.DeadlineExceeded}).
		Once()

	result := f.service.SyncAll(ctx)

	// The push phase succeeded; a failed pull does not fail the cycle
	require.True(t, result.Success)
	require.False(t, result.MasterData)
	require.True(t, failed)

	// The next pull re-requests from the same point
	ts, err := f.service.Settings().LastSyncTime(ctx)
	require.NoError(t, err)
	require.Equal(t, "2026-08-28 09:00:00", ts)
}

func TestDownloadSkippedWithoutProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	result := f.service.SyncAll(ctx)

	require.True(t, result.Success)
	require.False(t, result.MasterData)
	f.remote.AssertNotCalled(t, "FetchMasterData", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncAllEventOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	require.NoError(t, f.service.Settings().Set(ctx, models.SettingPOSProfile, "Main Store"))
	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{OfflineID: "OFF-1", Customer: "Walk-in"}))

	f.remote.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&remote.InvoiceResult{Status: remote.StatusSuccess, Name: "SINV-0001"}, nil).
		Once()
	f.remote.On("FetchMasterData", mock.Anything, "Main Store", "").
		Return(&remote.MasterData{SyncTimestamp: "2026-08-29 10:00:00"}, nil).
		Once()

	var published []events.Kind
	f.bus.Subscribe(func(e events.Event) {
		published = append(published, e.Kind())
	})

	result := f.service.SyncAll(ctx)
	require.True(t, result.Success)

	require.Equal(t, []events.Kind{
		events.KindSyncStarted,
		events.KindInvoiceSynced,
		events.KindDownloadStarted,
		events.KindDownloadCompleted,
		events.KindSyncCompleted,
	}, published)
}

func TestForceFullSyncClearsTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())
	f.monitor.online = false

	require.NoError(t, f.service.Settings().SetLastSyncTime(ctx, "2026-08-28 09:00:00"))

	result, err := f.service.ForceFullSync(ctx)
	require.NoError(t, err)
	require.Equal(t, events.ReasonOfflineOrBusy, result.Reason)

	// The reset happens even when the cycle itself is refused
	ts, err := f.service.Settings().LastSyncTime(ctx)
	require.NoError(t, err)
	require.Empty(t, ts)
}

func TestReconcileQueueReenqueuesOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	// Records written without their queue entries, as after a crash between
	// the two writes
	require.NoError(t, f.service.Invoices().Create(ctx, &models.Invoice{OfflineID: "OFF-1", Customer: "Walk-in"}))
	require.NoError(t, f.service.Customers().Save(ctx, &models.Customer{Name: "LOCAL-1", CustomerName: "Jane"}))

	n, err := f.service.ReconcileQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	pending, err := f.service.Queue().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Idempotent: a second pass finds nothing to do
	n, err = f.service.ReconcileQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCreateInvoiceWritesRecordAndOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	items, err := json.Marshal([]map[string]interface{}{{"item_code": "ITM-001", "qty": 2}})
	require.NoError(t, err)

	invoice := &models.Invoice{Customer: "Walk-in", Items: items, GrandTotal: 250}
	require.NoError(t, f.service.CreateInvoice(ctx, invoice))
	require.NotEmpty(t, invoice.OfflineID)

	pending, err := f.service.Queue().ListPendingOfType(ctx, models.OpTypeInvoice)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, invoice.OfflineID, pending[0].TargetID)

	var snapshot models.Invoice
	require.NoError(t, json.Unmarshal(pending[0].Payload, &snapshot))
	require.Equal(t, invoice.OfflineID, snapshot.OfflineID)
	require.Equal(t, float64(250), snapshot.GrandTotal)
}

func TestStatusSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSyncConfig())

	require.NoError(t, f.service.CreateInvoice(ctx, &models.Invoice{OfflineID: "OFF-1", Customer: "Walk-in"}))
	require.NoError(t, f.service.Settings().SetLastSyncTime(ctx, "2026-08-29 10:00:00"))

	session, err := f.service.OpenSession(ctx, "Main Store", 1000)
	require.NoError(t, err)

	status, err := f.service.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Online)
	require.False(t, status.Syncing)
	require.Equal(t, 1, status.PendingInvoices)
	require.Equal(t, 1, status.TotalPending)
	require.Equal(t, "2026-08-29 10:00:00", status.LastSync)
	require.Equal(t, session.ID, status.ActiveSession)
	require.NotNil(t, status.Storage)

	// A second open session is refused
	_, err = f.service.OpenSession(ctx, "Main Store", 0)
	require.Error(t, err)

	require.NoError(t, f.service.CloseSession(ctx, session.ID))
	status, err = f.service.Status(ctx)
	require.NoError(t, err)
	require.Empty(t, status.ActiveSession)
}
