package fixture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

type memTarget struct {
	accounts map[string]ledger.Account
	links    map[string]string
	deposits map[string]ledger.Deposit
}

func newMemTarget() *memTarget {
	return &memTarget{
		accounts: map[string]ledger.Account{},
		links:    map[string]string{},
		deposits: map[string]ledger.Deposit{},
	}
}

func (m *memTarget) CreateAccount(_ context.Context, a ledger.Account) (bool, error) {
	if _, ok := m.accounts[a.ID]; ok {
		return false, nil
	}
	m.accounts[a.ID] = a
	return true, nil
}

func (m *memTarget) SetReferrer(_ context.Context, id, ref string) error {
	if _, ok := m.accounts[id]; !ok {
		return errors.New("no such account")
	}
	m.links[id] = ref
	return nil
}

func (m *memTarget) CreateDeposit(_ context.Context, d ledger.Deposit) (bool, error) {
	if _, ok := m.deposits[d.ID]; ok {
		return false, nil
	}
	m.deposits[d.ID] = d
	return true, nil
}

func TestLoad_Network(t *testing.T) {
	f, err := Load("testdata/network.yaml")
	require.NoError(t, err)
	assert.Equal(t, "network", f.Name)
	assert.Len(t, f.Accounts, 5)
	assert.Len(t, f.Deposits, 2)
}

func TestApply(t *testing.T) {
	f, err := Load("testdata/network.yaml")
	require.NoError(t, err)
	target := newMemTarget()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := f.Apply(context.Background(), target, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Accounts: 5, Links: 4, Deposits: 2}, res)

	assert.Equal(t, "l1", target.links["owner"])
	assert.Equal(t, int64(1001), target.accounts["owner"].TelegramChatID)

	dep := target.deposits["dep-1"]
	assert.Equal(t, money.FromUnits(96000), dep.Principal)
	assert.Equal(t, ledger.DepositCompleted, dep.Status)
	assert.Equal(t, ledger.DepositPending, target.deposits["dep-2"].Status)

	again, err := f.Apply(context.Background(), target, now)
	require.NoError(t, err)
	assert.Zero(t, again.Accounts)
	assert.Zero(t, again.Deposits)
}

func TestParse_ForwardReferenceAllowed(t *testing.T) {
	f, err := Parse([]byte(`
accounts:
  - id: a
    referred_by: b
  - id: b
    referred_by: a
`))
	require.NoError(t, err)
	assert.Len(t, f.Accounts, 2)
}

func TestParse_DepositWithoutIDGetsFreshID(t *testing.T) {
	src := []byte(`
accounts:
  - id: a
deposits:
  - account: a
    tier: 1st Stock Package
    principal: "3000"
  - account: a
    tier: 1st Stock Package
    principal: "3000"
`)
	f, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, f.Deposits, 2)
	assert.NotEqual(t, f.Deposits[0].ID, f.Deposits[1].ID)
	parsed, err := uuid.Parse(f.Deposits[0].ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	again, err := Parse(src)
	require.NoError(t, err)
	target := newMemTarget()
	for _, fx := range []*Fixture{f, again} {
		_, err := fx.Apply(context.Background(), target, time.Unix(0, 0))
		require.NoError(t, err)
	}
	assert.Len(t, target.deposits, 4)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no accounts", "accounts: []"},
		{"unknown field", "accounts:\n  - id: a\n    referer: b\n"},
		{"duplicate account", "accounts:\n  - id: a\n  - id: a\n"},
		{"unknown referrer", "accounts:\n  - id: a\n    referred_by: z\n"},
		{"unknown deposit account", "accounts:\n  - id: a\ndeposits:\n  - id: d\n    account: z\n    tier: t\n    principal: \"1\"\n"},
		{"bad principal", "accounts:\n  - id: a\ndeposits:\n  - id: d\n    account: a\n    tier: t\n    principal: \"1.234\"\n"},
		{"bad status", "accounts:\n  - id: a\ndeposits:\n  - id: d\n    account: a\n    tier: t\n    principal: \"1\"\n    status: approved\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
