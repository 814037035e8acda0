package store

import (
	"fmt"
	"testing"
	"time"

	"futures-alert-bot/internal/database"
	"futures-alert-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// A named in-memory database keeps the schema visible across the
	// connection pool while isolating tests from each other.
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	return NewStore(db)
}

func TestCounterSeedsAndOverride(t *testing.T) {
	s := newTestStore(t)

	max, err := s.GetCounter(CounterMaxTrades)
	require.NoError(t, err)
	assert.EqualValues(t, database.DefaultMaxTrades, max)

	current, err := s.GetCounter(CounterCurrentTrades)
	require.NoError(t, err)
	assert.EqualValues(t, 0, current)

	require.NoError(t, s.SetCounter(CounterMaxTrades, 3))
	max, err = s.GetCounter(CounterMaxTrades)
	require.NoError(t, err)
	assert.EqualValues(t, 3, max)
}

func TestCounterMissingKeyIsZero(t *testing.T) {
	s := newTestStore(t)

	value, err := s.GetCounter("doesNotExist")
	require.NoError(t, err)
	assert.EqualValues(t, 0, value)
}

func TestIncrementDecrementCounter(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.IncrementCounter(CounterCurrentTrades))
	require.NoError(t, s.IncrementCounter(CounterCurrentTrades))

	current, err := s.GetCounter(CounterCurrentTrades)
	require.NoError(t, err)
	assert.EqualValues(t, 2, current)

	require.NoError(t, s.DecrementCounterClamped(CounterCurrentTrades))
	current, err = s.GetCounter(CounterCurrentTrades)
	require.NoError(t, err)
	assert.EqualValues(t, 1, current)
}

func TestDecrementClampsAtZero(t *testing.T) {
	s := newTestStore(t)

	// More decrements than increments must never drive the counter negative.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.DecrementCounterClamped(CounterCurrentTrades))
	}

	current, err := s.GetCounter(CounterCurrentTrades)
	require.NoError(t, err)
	assert.EqualValues(t, 0, current)
}

func TestTradeLedger(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UnixMilli()
	trades := []models.Trade{
		{TradeType: "mock", Symbol: "BTCUSDT", Pnl: 10, Time: now - 2*24*60*60*1000},
		{TradeType: "TAKE_PROFIT_MARKET", Symbol: "ETHUSDT", Pnl: 5, Time: now - 60_000},
		{TradeType: "STOP_MARKET", Symbol: "BTCUSDT", Pnl: -3, Time: now},
	}
	for i := range trades {
		require.NoError(t, s.AppendTrade(&trades[i]))
	}

	// One-day window only sees the two recent rows, most recent first.
	recent, err := s.QueryTrades(now-24*60*60*1000, now)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "STOP_MARKET", recent[0].TradeType)
	assert.Equal(t, "TAKE_PROFIT_MARKET", recent[1].TradeType)

	all, err := s.QueryTrades(0, now)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	latest, err := s.LatestTrade()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "STOP_MARKET", latest.TradeType)
}

func TestLatestTradeEmptyLedger(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.LatestTrade()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestCredentialLifecycle(t *testing.T) {
	s := newTestStore(t)

	active, err := s.ActiveCredential()
	require.NoError(t, err)
	assert.Nil(t, active, "no credential stored yet")

	id, err := s.SaveCredential(&models.Credential{
		ApiKey:      "key-1",
		ApiSecret:   "secret-1",
		TradeAmount: 100,
		Leverage:    10,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	_, err = s.SaveCredential(&models.Credential{
		ApiKey:      "key-2",
		ApiSecret:   "secret-2",
		TradeAmount: 50,
		Leverage:    5,
	})
	require.NoError(t, err)

	// The bot trades with the first credential by insertion order.
	active, err = s.ActiveCredential()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "key-1", active.ApiKey)

	updated := models.Credential{
		ApiKey:      "key-1b",
		ApiSecret:   "secret-1b",
		TradeAmount: 200,
		Leverage:    20,
	}
	updated.ID = id
	require.NoError(t, s.UpdateCredential(&updated))
	active, err = s.ActiveCredential()
	require.NoError(t, err)
	assert.Equal(t, "key-1b", active.ApiKey)
	assert.Equal(t, 200.0, active.TradeAmount)
	assert.Equal(t, 20, active.Leverage)

	require.NoError(t, s.DeleteCredential(id))
	creds, err := s.GetCredentials()
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "key-2", creds[0].ApiKey)
}

func TestUpdateCredentialRequiresID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.UpdateCredential(&models.Credential{ApiKey: "k"}))
}
