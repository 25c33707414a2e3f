package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shameScope/internal/events"
	"shameScope/internal/model"
)

func envelopeChecker(kind events.Kind, hash string) mocks.ValueChecker {
	return func(val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Type != kind {
			return fmt.Errorf("type %s, want %s", env.Type, kind)
		}
		var tx model.Transaction
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return err
		}
		if tx.TxHash != hash {
			return fmt.Errorf("hash %s, want %s", tx.TxHash, hash)
		}
		return nil
	}
}

func feedTx(hash string) model.Transaction {
	return model.Transaction{
		TxHash:     hash,
		Amount:     decimal.NewFromInt(5),
		FromSource: model.SourceFallback,
		ToSource:   model.SourceFallback,
	}
}

func TestPublisherForwardsFeedEvents(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(envelopeChecker(events.KindNewTransaction, "0xaa"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(envelopeChecker(events.KindTransactionEnriched, "0xaa"))

	pub, err := NewPublisher(producer, "shame-feed", 8, nil)
	require.NoError(t, err)

	hub := events.NewHub(nil)
	pub.Attach(hub)

	tx := feedTx("0xaa")
	hub.Publish(events.KindNewTransaction, tx)
	hub.Publish(events.KindHistoryUpdate, nil)
	tx.FromDisplayName = "@alice"
	hub.Publish(events.KindTransactionEnriched, tx)
	assert.Len(t, pub.queue, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, pub.Close())
}

func TestPublisherSendErrorContinues(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	pub, err := NewPublisher(producer, "shame-feed", 1, nil)
	require.NoError(t, err)

	err = pub.send(events.Event{Kind: events.KindNewTransaction, Payload: feedTx("0xbb")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	err = pub.send(events.Event{Kind: events.KindNewTransaction, Payload: "not a transaction"})
	require.Error(t, err)
	require.NoError(t, pub.Close())
}

func TestPublisherDropsWhenFull(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub, err := NewPublisher(producer, "shame-feed", 1, nil)
	require.NoError(t, err)

	hub := events.NewHub(nil)
	pub.Attach(hub)
	hub.Publish(events.KindNewTransaction, feedTx("0x1"))
	hub.Publish(events.KindNewTransaction, feedTx("0x2"))
	assert.Len(t, pub.queue, 1)
	require.NoError(t, pub.Close())
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(nil, " ", 0, nil)
	require.Error(t, err)
	_, err = NewSyncProducer(nil)
	require.Error(t, err)
}
