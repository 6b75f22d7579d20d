package marketplace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/registry"
	"github.com/hupe1980/flowmesh/tool"
)

const admittableSource = `// Notify posts a message to a channel and returns the receipt.
func Notify(channel, msg string) (string, error) {
	receipt, err := post(channel, msg)
	if err != nil {
		return "", fmt.Errorf("notify %s: %w", channel, err)
	}
	log.Printf("notified %s", channel)
	return receipt, nil
}`

func admittedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	res, err := reg.Submit(registry.Submission{
		Descriptor: core.ToolDescriptor{
			Name:        "slack_notify",
			Description: "posts a message",
			Tags:        []string{"notification"},
			Source:      admittableSource,
			Author:      "acme",
			Version:     "1.0.0",
		},
		Handler: tool.NewFunctionTool("slack_notify", "posts a message", []string{"notification"},
			map[string]any{"type": "object", "properties": map[string]any{}},
			func(tc *core.ToolContext, args map[string]any) (any, error) { return "sent", nil }),
	})
	require.NoError(t, err)
	require.True(t, res.Admitted)
	return reg
}

func TestPublishRequiresAdmission(t *testing.T) {
	reg := admittedRegistry(t)
	m := New(reg, NewMemoryLedger(100))

	l, err := m.Publish("slack_notify", "acme", 10)
	require.NoError(t, err)
	assert.Equal(t, ListingActive, l.Status)

	_, err = m.Publish("ghost_plugin", "acme", 10)
	assert.ErrorIs(t, err, core.ErrNotAdmitted)

	_, err = m.Publish("slack_notify", "acme", -1)
	assert.Error(t, err)
}

func TestPurchaseSettlesLedger(t *testing.T) {
	reg := admittedRegistry(t)
	ledger := NewMemoryLedger(100)
	m := New(reg, ledger)

	l, err := m.Publish("slack_notify", "acme", 25)
	require.NoError(t, err)

	tx, err := m.Purchase(context.Background(), l.ID, "buyer")
	require.NoError(t, err)

	assert.Equal(t, l.ID, tx.ListingID)
	assert.Equal(t, 25.0, tx.Amount)
	assert.NotEmpty(t, tx.LedgerRef)
	assert.Equal(t, 75.0, ledger.Balance("buyer"))
	assert.Equal(t, 125.0, ledger.Balance("acme"))
	assert.Len(t, m.Transactions(), 1)
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	reg := admittedRegistry(t)
	m := New(reg, NewMemoryLedger(5))

	l, err := m.Publish("slack_notify", "acme", 25)
	require.NoError(t, err)

	_, err = m.Purchase(context.Background(), l.ID, "broke_buyer")
	assert.Error(t, err)
	assert.Empty(t, m.Transactions(), "failed settlement records no transaction")
}

func TestPurchaseRejectsRevokedPlugin(t *testing.T) {
	reg := admittedRegistry(t)
	m := New(reg, NewMemoryLedger(100))

	l, err := m.Publish("slack_notify", "acme", 10)
	require.NoError(t, err)

	require.NoError(t, reg.Revoke("slack_notify", "compromised"))

	_, err = m.Purchase(context.Background(), l.ID, "buyer")
	assert.ErrorIs(t, err, core.ErrNotAdmitted)
}

func TestFlagRemovesFromPurchasePath(t *testing.T) {
	reg := admittedRegistry(t)
	m := New(reg, NewMemoryLedger(100))

	l, err := m.Publish("slack_notify", "acme", 10)
	require.NoError(t, err)
	require.NoError(t, m.Flag(l.ID, "reported by user"))

	_, err = m.Purchase(context.Background(), l.ID, "buyer")
	assert.ErrorIs(t, err, ErrListingInactive)

	assert.Len(t, m.Listings(ListingFlagged), 1)
	assert.Empty(t, m.Listings(ListingActive))
	assert.Len(t, m.Listings(""), 1)
}

func TestUnknownListing(t *testing.T) {
	reg := admittedRegistry(t)
	m := New(reg, NewMemoryLedger(100))

	_, err := m.Purchase(context.Background(), "ghost", "buyer")
	assert.ErrorIs(t, err, ErrListingNotFound)
	assert.ErrorIs(t, m.Deactivate("ghost"), ErrListingNotFound)
}
