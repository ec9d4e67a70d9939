// Package events publishes sale lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gncyclemart/shop-api/internal/models"
)

// Event types
const (
	SaleCreated   = "sale.created"
	SaleConfirmed = "sale.confirmed"
	SaleCancelled = "sale.cancelled"
	SaleDeleted   = "sale.deleted"
)

// SaleEvent is the payload published for every sale state change.
type SaleEvent struct {
	Type       string                `json:"type"`
	SaleID     string                `json:"saleId"`
	UserID     string                `json:"user"`
	Status     models.SaleStatus     `json:"status"`
	TotalPrice decimal.Decimal       `json:"totalPrice"`
	Items      []models.SaleLineItem `json:"salesItems"`
	OccurredAt time.Time             `json:"occurredAt"`
}

// NewSaleEvent builds the event for sale.
func NewSaleEvent(eventType string, sale *models.Sale) SaleEvent {
	return SaleEvent{
		Type:       eventType,
		SaleID:     sale.ID,
		UserID:     sale.UserID,
		Status:     sale.Status,
		TotalPrice: sale.TotalPrice,
		Items:      sale.Items,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher emits sale events. Publishing happens after the database commit,
// so a failure is reported but never undoes the state change.
type Publisher interface {
	PublishSale(ctx context.Context, ev SaleEvent) error
	Close() error
}

// Kafka publishes events as JSON messages keyed by sale id.
type Kafka struct {
	writer *kafka.Writer
}

var _ Publisher = (*Kafka)(nil)

// NewKafka returns a publisher for topic on the comma separated brokers.
func NewKafka(brokersCSV, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(ParseBrokers(brokersCSV)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		// one event per request; the 1s default would stall every sale response
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: 2 * time.Second,
	}}
}

func (k *Kafka) PublishSale(ctx context.Context, ev SaleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SaleID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// New returns a Kafka publisher, or Noop when no brokers are configured.
func New(brokersCSV, topic string) Publisher {
	if len(ParseBrokers(brokersCSV)) == 0 {
		return Noop{}
	}
	zap.S().Infow("publishing sale events", "brokers", brokersCSV, "topic", topic)
	return NewKafka(brokersCSV, topic)
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishSale(context.Context, SaleEvent) error { return nil }
func (Noop) Close() error                                 { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []SaleEvent
}

func (r *Recorder) PublishSale(_ context.Context, ev SaleEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []SaleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SaleEvent(nil), r.events...)
}

// Types returns the type of every published event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}
