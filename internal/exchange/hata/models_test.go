package hata

import (
	"crypto-market-depth/internal/domain"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, frame string) HataStreamMessage {
	t.Helper()
	var message HataStreamMessage
	require.NoError(t, json.Unmarshal([]byte(frame), &message))
	return message
}

func TestSnapshotMessage(t *testing.T) {
	message := parse(t, `{"type":"snapshot","pair":"BTCMYR","nonce":10,"buy_offers":[{"price":"101","amount":"1"}],"sell_offers":[{"price":"100","amount":"5"}]}`)

	update, err := message.toUpdate()
	require.NoError(t, err)
	assert.Equal(t, domain.Snapshot, update.Kind)
	assert.Equal(t, int64(10), update.Nonce)
	assert.Equal(t, "BTCMYR", update.Pair)
	require.Len(t, update.Q2BOffers, 1)
	assert.Equal(t, "101", update.Q2BOffers[0].Price.String())
	require.Len(t, update.B2QOffers, 1)
	assert.Equal(t, "5", update.B2QOffers[0].AmountBase.String())
}

func TestDeltaMessage(t *testing.T) {
	message := parse(t, `{"type":"delta","pair":"BTCMYR","nonce":11,"buy_changes":[{"op":"add","price":"102","amount":"1"}],"sell_changes":[{"op":"Update","price":"100","amount":"3"},{"op":"remove","price":"99","amount":"0"}]}`)

	update, err := message.toUpdate()
	require.NoError(t, err)
	assert.Equal(t, domain.Delta, update.Kind)
	require.Len(t, update.Q2BChanges, 1)
	assert.Equal(t, domain.Add, update.Q2BChanges[0].Op)
	require.Len(t, update.B2QChanges, 2)
	assert.Equal(t, domain.Update, update.B2QChanges[0].Op)
	assert.Equal(t, domain.Remove, update.B2QChanges[1].Op)
}

func TestInvalidMessages(t *testing.T) {
	for _, frame := range []string{
		`{"type":"trade","pair":"BTCMYR","nonce":1}`,
		`{"type":"snapshot","nonce":1}`,
		`{"type":"delta","pair":"BTCMYR","nonce":1,"sell_changes":[{"op":"replace","price":"1","amount":"1"}]}`,
	} {
		message := parse(t, frame)
		_, err := message.toUpdate()
		assert.Error(t, err, frame)
	}
}
