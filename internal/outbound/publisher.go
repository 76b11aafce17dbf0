package outbound

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"EirLedger/internal/coordinator"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// StreamName is the JetStream stream holding run status records.
const StreamName = "EIR_RUN_STATUS"

// Subject returns the subject a run's status records are published on.
func Subject(runID int64) string {
	return fmt.Sprintf("eir.runs.%d.status", runID)
}

// MsgPublisher is the part of jetstream.JetStream the publisher needs.
type MsgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StatusMessage is the JSON body of a published status record.
type StatusMessage struct {
	ID           string                    `json:"id"`
	RunID        int64                     `json:"run_id"`
	Status       coordinator.Status        `json:"status"`
	BusinessLogs []coordinator.BusinessLog `json:"business_logs"`
	PublishedAt  time.Time                 `json:"published_at"`
}

// StatusPublisher fans run status records out to JetStream so consumers
// other than the poller can follow a run. Every message carries a ULID as
// its Nats-Msg-Id, which lets the server drop duplicates on retry.
type StatusPublisher struct {
	js  MsgPublisher
	log zerolog.Logger

	mu      sync.Mutex
	entropy io.Reader
}

// NewStatusPublisher creates a publisher.
func NewStatusPublisher(js MsgPublisher, log zerolog.Logger) *StatusPublisher {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &StatusPublisher{
		js:      js,
		log:     log,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

// Publish implements coordinator.Notifier.
func (p *StatusPublisher) Publish(ctx context.Context, rec coordinator.StatusRecord) error {
	now := time.Now().UTC()
	id, err := p.newID(now)
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}

	data, err := json.Marshal(StatusMessage{
		ID:           id,
		RunID:        rec.RunID,
		Status:       rec.Status,
		BusinessLogs: rec.BusinessLogs,
		PublishedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	msg := nats.NewMsg(Subject(rec.RunID))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	p.log.Debug().
		Int64("run_id", rec.RunID).
		Str("status", string(rec.Status)).
		Str("msg_id", id).
		Msg("status published")
	return nil
}

func (p *StatusPublisher) newID(t time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), p.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// EnsureStatusStream creates or updates the run status stream.
func EnsureStatusStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"eir.runs.*.status"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Connect opens a NATS connection that reconnects forever and returns its
// JetStream handle.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("eirledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
