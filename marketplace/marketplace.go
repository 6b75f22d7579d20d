// Package marketplace manages listings of admitted plugins and purchases
// settled against an opaque ledger collaborator. Payment settlement is an
// external concern; the market only records listings and transactions.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/registry"
)

// ListingStatus is the lifecycle state of one listing.
type ListingStatus string

const (
	ListingActive   ListingStatus = "active"
	ListingInactive ListingStatus = "inactive"
	ListingFlagged  ListingStatus = "flagged"
)

// Listing offers one admitted plugin for purchase.
type Listing struct {
	ID      string        `json:"id"`
	Plugin  string        `json:"plugin"`
	Author  string        `json:"author"`
	Price   float64       `json:"price"`
	Status  ListingStatus `json:"status"`
	Created time.Time     `json:"created"`
}

// Transaction records one settled purchase.
type Transaction struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Plugin    string    `json:"plugin"`
	Buyer     string    `json:"buyer"`
	Amount    float64   `json:"amount"`
	LedgerRef string    `json:"ledger_ref"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger settles payments. Implementations may be backed by any external
// settlement system; the market treats the reference as opaque.
type Ledger interface {
	Transfer(ctx context.Context, from, to string, amount float64) (ref string, err error)
}

// Errors specific to the market.
var (
	ErrListingNotFound = errors.New("listing not found")
	ErrListingInactive = errors.New("listing not active")
)

// Options configures a Market.
type Options struct {
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Market holds listings for admitted plugins. Safe for concurrent use.
type Market struct {
	registry *registry.Registry
	ledger   Ledger
	opts     Options

	mu           sync.RWMutex
	listings     map[string]*Listing
	transactions []Transaction
}

// New constructs a Market over the given registry and ledger.
func New(reg *registry.Registry, ledger Ledger, optFns ...func(o *Options)) *Market {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Market{
		registry: reg,
		ledger:   ledger,
		opts:     opts,
		listings: make(map[string]*Listing),
	}
}

// Publish creates an active listing for an admitted plugin. Blocked or
// unknown plugins cannot be listed.
func (m *Market) Publish(plugin, author string, price float64) (*Listing, error) {
	if !m.registry.Admitted(plugin) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotAdmitted, plugin)
	}
	if price < 0 {
		return nil, fmt.Errorf("listing price must be non-negative, got %v", price)
	}

	l := &Listing{
		ID:      core.NewID(),
		Plugin:  plugin,
		Author:  author,
		Price:   price,
		Status:  ListingActive,
		Created: time.Now().UTC(),
	}

	m.mu.Lock()
	m.listings[l.ID] = l
	m.mu.Unlock()

	m.opts.Logger.Info("marketplace.published", "listing", l.ID, "plugin", plugin, "price", price)
	return l, nil
}

// Purchase settles a listing for the buyer. The plugin must still be
// admitted at purchase time; a revocation between listing and purchase
// invalidates the sale.
func (m *Market) Purchase(ctx context.Context, listingID, buyer string) (*Transaction, error) {
	m.mu.RLock()
	l, ok := m.listings[listingID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	if l.Status != ListingActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrListingInactive, listingID, l.Status)
	}
	if !m.registry.Admitted(l.Plugin) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotAdmitted, l.Plugin)
	}

	ref, err := m.ledger.Transfer(ctx, buyer, l.Author, l.Price)
	if err != nil {
		return nil, fmt.Errorf("settle purchase: %w", err)
	}

	tx := Transaction{
		ID:        core.NewID(),
		ListingID: l.ID,
		Plugin:    l.Plugin,
		Buyer:     buyer,
		Amount:    l.Price,
		LedgerRef: ref,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	m.transactions = append(m.transactions, tx)
	m.mu.Unlock()

	m.opts.Logger.Info("marketplace.purchased", "listing", l.ID, "plugin", l.Plugin, "buyer", buyer)
	return &tx, nil
}

// Deactivate takes a listing off the market.
func (m *Market) Deactivate(listingID string) error {
	return m.setStatus(listingID, ListingInactive)
}

// Flag marks a listing for review and takes it off the purchase path.
func (m *Market) Flag(listingID, reason string) error {
	if err := m.setStatus(listingID, ListingFlagged); err != nil {
		return err
	}
	m.opts.Logger.Warn("marketplace.flagged", "listing", listingID, "reason", reason)
	return nil
}

func (m *Market) setStatus(listingID string, status ListingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	l.Status = status
	return nil
}

// Listings returns listings with the given status; an empty status returns
// all of them.
func (m *Market) Listings(status ListingStatus) []Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Listing
	for _, l := range m.listings {
		if status == "" || l.Status == status {
			out = append(out, *l)
		}
	}
	return out
}

// Transactions returns the settled purchase history.
func (m *Market) Transactions() []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transaction, len(m.transactions))
	copy(out, m.transactions)
	return out
}

// MemoryLedger is an in-process Ledger for tests and demos. Accounts start
// at the configured opening balance.
type MemoryLedger struct {
	Opening float64

	mu       sync.Mutex
	balances map[string]float64
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger constructs a ledger where every account opens at balance.
func NewMemoryLedger(balance float64) *MemoryLedger {
	return &MemoryLedger{Opening: balance, balances: make(map[string]float64)}
}

// Transfer moves amount between accounts, failing on insufficient funds.
func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal := l.balanceLocked(from)
	if fromBal < amount {
		return "", fmt.Errorf("insufficient funds: %s has %v, needs %v", from, fromBal, amount)
	}
	l.balances[from] = fromBal - amount
	l.balances[to] = l.balanceLocked(to) + amount
	return core.NewID(), nil
}

// Balance returns the current balance of an account.
func (l *MemoryLedger) Balance(account string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(account)
}

func (l *MemoryLedger) balanceLocked(account string) float64 {
	if b, ok := l.balances[account]; ok {
		return b
	}
	l.balances[account] = l.Opening
	return l.Opening
}
