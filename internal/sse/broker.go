package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/Kiryzsuuu/call-agent/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// Client receives events for one session, or for every session when
// SessionID is empty.
type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans call log events out to console clients. With redis, events
// travel over pub/sub so every replica sees writes made by the others;
// without it they are delivered in-process.
type Broker struct {
	redis   *redisclient.Client
	clients map[*Client]bool
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc

	onCountChange func(int)
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		redis:   redisClient,
		clients: make(map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
	if redisClient != nil {
		go b.subscribeToRedis()
	}
	return b
}

// OnClientCountChange registers a callback invoked with the connected client
// count after every subscribe and unsubscribe.
func (b *Broker) OnClientCountChange(fn func(int)) {
	b.mu.Lock()
	b.onCountChange = fn
	b.mu.Unlock()
}

func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client] = true
	clientCount := len(b.clients)
	notify := b.onCountChange
	b.mu.Unlock()

	if notify != nil {
		notify(clientCount)
	}

	log.Info().
		Str("sessionId", sessionID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	if !b.clients[client] {
		b.mu.Unlock()
		return
	}
	delete(b.clients, client)
	close(client.Done)
	clientCount := len(b.clients)
	notify := b.onCountChange
	b.mu.Unlock()

	if notify != nil {
		notify(clientCount)
	}

	log.Info().
		Str("sessionId", client.SessionID).
		Int("clientCount", clientCount).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, event Event) error {
	if b.redis == nil {
		b.broadcast(event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.EventsChannel, data).Err()
}

func (b *Broker) subscribeToRedis() {
	pubsub := b.redis.Subscribe(b.ctx, redisclient.EventsChannel)
	defer pubsub.Close()

	log.Debug().
		Str("channel", redisclient.EventsChannel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(event)
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		if client.SessionID != "" && client.SessionID != event.SessionID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionId", event.SessionID).
				Str("eventType", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		close(client.Done)
	}
	b.clients = make(map[*Client]bool)
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
