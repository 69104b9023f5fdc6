package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
	"Market": {
		"XBTMYR": {"Enabled": true, "Base": "XBT", "Quote": "MYR", "MinBase": "0.0005", "MaxBase": "100", "MinQuote": 10},
		"ETHMYR": {"Enabled": false, "Base": "ETH", "Quote": "MYR"},
		"USDTMYR": {"Enabled": true, "Base": "USDT", "Quote": "MYR", "MinBase": "1"}
	},
	"Exchange": {
		"Luno": {"Enabled": true, "ApiKey": "id", "ApiSecret": "secret", "SnapshotRatePerSecond": 2}
	},
	"Stream": {"PendingCapacity": 64},
	"Discord": {"WebhookUrl": ""}
}`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 64, c.Stream.PendingCapacity)
	assert.Equal(t, 10, c.Stream.SnapshotTimeoutSeconds)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "fills.db", c.Database.Path)
	assert.Equal(t, 2.0, c.Exchange["Luno"].SnapshotRatePerSecond)

	pair, ok := c.Pair("XBTMYR")
	require.True(t, ok)
	assert.True(t, pair.AmountRangeBase.Min.Equal(decimal.RequireFromString("0.0005")))
	assert.True(t, pair.AmountRangeBase.Max.Equal(decimal.NewFromInt(100)))
	assert.True(t, pair.AmountRangeQuote.Min.Equal(decimal.NewFromInt(10)))
	assert.True(t, pair.AmountRangeQuote.Max.IsZero())

	pairs := c.EnabledPairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "USDTMYR", pairs[0].Name)
	assert.Equal(t, "XBTMYR", pairs[1].Name)

	_, ok = c.Pair("DOGEMYR")
	assert.False(t, ok)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"Market": [`))
	assert.Error(t, err)
}
