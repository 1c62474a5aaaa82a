// Package events carries the lifecycle notifications this core surfaces to
// its collaborators. Every event is a typed payload; handlers are matched to
// payload shapes at compile time instead of through a string-keyed emitter.
package events

import "sync"

// Kind discriminates event payloads.
type Kind string

const (
	KindOnline            Kind = "online"
	KindOffline           Kind = "offline"
	KindSyncStarted       Kind = "syncStart"
	KindSyncCompleted     Kind = "syncComplete"
	KindSyncFailed        Kind = "syncError"
	KindDownloadStarted   Kind = "downloadStart"
	KindDownloadCompleted Kind = "downloadComplete"
	KindDownloadFailed    Kind = "downloadError"
	KindInvoiceSynced     Kind = "invoiceSynced"
)

// Event is a lifecycle notification.
type Event interface {
	Kind() Kind
}

// PushCounts aggregates per-record push outcomes for one record type.
type PushCounts struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// SyncResult is the structured outcome of a sync cycle.
type SyncResult struct {
	Success    bool       `json:"success"`
	Reason     string     `json:"reason,omitempty"`
	Invoices   PushCounts `json:"invoices"`
	Customers  PushCounts `json:"customers"`
	MasterData bool       `json:"masterData"`
}

// ReasonOfflineOrBusy is reported when a cycle is refused because the device
// is offline or another cycle is already in flight.
const ReasonOfflineOrBusy = "offline_or_busy"

// Online signals a transition to connected state.
type Online struct{}

// Offline signals a transition to disconnected state.
type Offline struct{}

// SyncStarted signals the start of a sync cycle.
type SyncStarted struct{}

// SyncCompleted carries the result of a finished sync cycle.
type SyncCompleted struct {
	Result SyncResult
}

// SyncFailed signals an orchestration-level failure mid-cycle.
type SyncFailed struct {
	Err error
}

// DownloadStarted signals the start of a master-data pull.
type DownloadStarted struct{}

// DownloadCompleted carries the record counts of a persisted pull.
type DownloadCompleted struct {
	Items     int
	Customers int
}

// DownloadFailed signals a failed master-data pull.
type DownloadFailed struct {
	Err error
}

// InvoiceSynced signals remote acceptance of one invoice.
type InvoiceSynced struct {
	OfflineID  string
	ServerName string
}

func (Online) Kind() Kind            { return KindOnline }
func (Offline) Kind() Kind           { return KindOffline }
func (SyncStarted) Kind() Kind       { return KindSyncStarted }
func (SyncCompleted) Kind() Kind     { return KindSyncCompleted }
func (SyncFailed) Kind() Kind        { return KindSyncFailed }
func (DownloadStarted) Kind() Kind   { return KindDownloadStarted }
func (DownloadCompleted) Kind() Kind { return KindDownloadCompleted }
func (DownloadFailed) Kind() Kind    { return KindDownloadFailed }
func (InvoiceSynced) Kind() Kind     { return KindInvoiceSynced }

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is an in-process publish/subscribe dispatcher. Publish runs handlers
// synchronously in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscription
}

// NewBus creates a new Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events and returns its unsubscribe
// function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs = append(b.subs, subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish dispatches an event to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs))
	for i, sub := range b.subs {
		handlers[i] = sub.handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
