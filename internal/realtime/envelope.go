package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/msgcodec"
)

// Envelope is the wire form of one push.
type Envelope struct {
	Meta Meta    `json:"meta"`
	Data Payload `json:"data"`
}

// Meta identifies a push. ID is unique per push and repeats on redelivery.
type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Producer string    `json:"producer,omitempty"`
}

// Payload carries the fields of every push kind; each kind sets a subset.
type Payload struct {
	Key           claims.Key `json:"key"`
	TicketID      string     `json:"ticket_id,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	ProviderID    string     `json:"provider_id,omitempty"`
	Continuous    *bool      `json:"continuous,omitempty"`
	CustomerID    string     `json:"customer_id,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	TransferredBy string     `json:"transferred_by,omitempty"`
	ToUserID      string     `json:"to_user_id,omitempty"`
	NewKey        claims.Key `json:"new_key,omitempty"`
	RemovedBy     string     `json:"removed_by,omitempty"`
}

// Event converts the envelope to a cache event.
func (e Envelope) Event() claims.Event {
	return claims.Event{
		ID:            e.Meta.ID,
		Kind:          claims.ParseEventKind(e.Meta.Type),
		RawKind:       e.Meta.Type,
		Time:          e.Meta.Time,
		Key:           e.Data.Key,
		ToUserID:      e.Data.ToUserID,
		TransferredBy: e.Data.TransferredBy,
		TicketID:      e.Data.TicketID,
		CustomerID:    e.Data.CustomerID,
		CustomerName:  e.Data.CustomerName,
		OrderID:       e.Data.OrderID,
		ProviderID:    e.Data.ProviderID,
		Continuous:    e.Data.Continuous,
		NewKey:        e.Data.NewKey,
		RemovedBy:     e.Data.RemovedBy,
	}
}

// EnvelopeFor builds the envelope of an event, the inverse of Event.
func EnvelopeFor(ev claims.Event, producer string) Envelope {
	kind := ev.RawKind
	if kind == "" {
		kind = ev.Kind.String()
	}
	return Envelope{
		Meta: Meta{ID: ev.ID, Type: kind, Time: ev.Time, Producer: producer},
		Data: Payload{
			Key:           ev.Key,
			TicketID:      ev.TicketID,
			OrderID:       ev.OrderID,
			ProviderID:    ev.ProviderID,
			Continuous:    ev.Continuous,
			CustomerID:    ev.CustomerID,
			CustomerName:  ev.CustomerName,
			TransferredBy: ev.TransferredBy,
			ToUserID:      ev.ToUserID,
			NewKey:        ev.NewKey,
			RemovedBy:     ev.RemovedBy,
		},
	}
}

// Decode parses one frame. Compressed frames are zstd-encoded JSON.
func Decode(data []byte, compression msgcodec.Compression) (claims.Event, error) {
	raw, err := msgcodec.Decompress(data, compression)
	if err != nil {
		return claims.Event{}, fmt.Errorf("decompress frame: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return claims.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Meta.Type == "" {
		return claims.Event{}, fmt.Errorf("decode envelope: missing type")
	}
	return env.Event(), nil
}

// Encode serializes an envelope, compressing it when compress is set.
func Encode(env Envelope, compress bool) ([]byte, msgcodec.Compression, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, 0, fmt.Errorf("encode envelope: %w", err)
	}
	if !compress {
		return raw, msgcodec.CompressionNone, nil
	}
	data, c := msgcodec.Compress(raw)
	return data, c, nil
}
