package outbound_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"EirLedger/internal/coordinator"
	"EirLedger/internal/outbound"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJS struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeJS) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	return &jetstream.PubAck{Stream: outbound.StreamName, Sequence: uint64(len(f.msgs))}, nil
}

// === Test: Status publisher ===

func TestStatusPublisher_PublishesOnRunSubject(t *testing.T) {
	js := &fakeJS{}
	p := outbound.NewStatusPublisher(js, zerolog.Nop())

	rec := coordinator.StatusRecord{
		RunID:  42,
		Status: coordinator.StatusRunning,
		BusinessLogs: []coordinator.BusinessLog{
			{Level: coordinator.LevelInfo, Message: "progress: 1 of 2 calculated."},
		},
	}
	require.NoError(t, p.Publish(context.Background(), rec))
	require.Len(t, js.msgs, 1)

	msg := js.msgs[0]
	assert.Equal(t, "eir.runs.42.status", msg.Subject)

	var body outbound.StatusMessage
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, int64(42), body.RunID)
	assert.Equal(t, coordinator.StatusRunning, body.Status)
	assert.Equal(t, rec.BusinessLogs, body.BusinessLogs)
	assert.Equal(t, body.ID, msg.Header.Get(nats.MsgIdHdr))

	_, err := ulid.Parse(body.ID)
	assert.NoError(t, err)
}

func TestStatusPublisher_IDsIncrease(t *testing.T) {
	js := &fakeJS{}
	p := outbound.NewStatusPublisher(js, zerolog.Nop())

	for i := 0; i < 50; i++ {
		require.NoError(t, p.Publish(context.Background(), coordinator.StatusRecord{RunID: 1}))
	}
	for i := 1; i < len(js.msgs); i++ {
		prev := js.msgs[i-1].Header.Get(nats.MsgIdHdr)
		cur := js.msgs[i].Header.Get(nats.MsgIdHdr)
		assert.Less(t, prev, cur)
	}
}

func TestStatusPublisher_WrapsPublishError(t *testing.T) {
	p := outbound.NewStatusPublisher(&fakeJS{err: errors.New("no responders")}, zerolog.Nop())
	err := p.Publish(context.Background(), coordinator.StatusRecord{RunID: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eir.runs.3.status")
}
