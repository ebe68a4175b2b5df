package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/store"
)

const opTimeout = 5 * time.Second

// Hub is the central brain of the store server.
// It owns every connected client and its watches, and fans store changes
// out to them.
type Hub struct {
	store   store.Store
	metrics *Metrics
	log     *slog.Logger

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Requests carries client requests to the hub.
	Requests chan *Request

	clients map[*Client]*clientState
}

// Request is one message read from a client.
type Request struct {
	client *Client
	msg    *protocol.Message
}

type clientState struct {
	watches      map[uint64]string
	onDisconnect map[string]struct{}
}

func NewHub(s store.Store, m *Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		store:      s,
		metrics:    m,
		log:        logging.Component(logger, "hub"),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Requests:   make(chan *Request),
		clients:    make(map[*Client]*clientState),
	}
}

// Run is the hub's processing loop. It is the only goroutine that touches
// client state. Store changes reach it through a single watch on the whole
// store, so clients see them in commit order.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.store.Watch(ctx, "")
	if err != nil {
		return err
	}
	defer h.dropAll()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.Register:
			h.clients[client] = &clientState{
				watches:      make(map[uint64]string),
				onDisconnect: make(map[string]struct{}),
			}
			h.metrics.Clients.Inc()
			h.log.Debug("client registered", "addr", client.addr())

		case client := <-h.Unregister:
			h.drop(ctx, client)

		case req := <-h.Requests:
			if _, ok := h.clients[req.client]; ok {
				h.handle(ctx, req)
			}

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("store watch closed")
			}
			h.fanout(ctx, ev)
		}
	}
}

func (h *Hub) handle(ctx context.Context, req *Request) {
	msg := req.msg
	state := h.clients[req.client]
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		resp = &protocol.Message{Type: protocol.TypeResult, ID: msg.ID}
		err  error
	)
	switch msg.Type {
	case protocol.TypePut:
		err = h.store.Put(opCtx, msg.Key, msg.Value)
	case protocol.TypeGet:
		resp.Value, err = h.store.Get(opCtx, msg.Key)
	case protocol.TypeDelete:
		err = h.store.Delete(opCtx, msg.Key)
	case protocol.TypeList:
		resp.Entries, err = h.store.List(opCtx, msg.Prefix)
	case protocol.TypeDeletePrefix:
		err = h.store.DeletePrefix(opCtx, msg.Prefix)
	case protocol.TypeWatch:
		state.watches[msg.WatchID] = msg.Prefix
		h.metrics.Watches.Inc()
	case protocol.TypeUnwatch:
		if _, ok := state.watches[msg.WatchID]; ok {
			delete(state.watches, msg.WatchID)
			h.metrics.Watches.Dec()
		}
		return
	case protocol.TypeOnDisconnect:
		if msg.Key == "" {
			err = store.ErrInvalidKey
		} else {
			state.onDisconnect[msg.Key] = struct{}{}
		}
	default:
		h.log.Warn("unknown message type", "type", msg.Type, "addr", req.client.addr())
		h.send(ctx, req.client, &protocol.Message{
			Type: protocol.TypeError, ID: msg.ID, Code: protocol.CodeBadRequest, Error: "unknown message type " + msg.Type,
		})
		return
	}

	h.metrics.observe(msg.Type, err)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Warn("store operation failed", "op", msg.Type, "key", msg.Key, "prefix", msg.Prefix, "err", err)
		}
		resp = &protocol.Message{Type: protocol.TypeError, ID: msg.ID, Code: protocol.CodeFor(err), Error: err.Error()}
	}
	h.send(ctx, req.client, resp)
}

func (h *Hub) fanout(ctx context.Context, ev store.Event) {
	for client, state := range h.clients {
		for id, prefix := range state.watches {
			if !strings.HasPrefix(ev.Key, prefix) {
				continue
			}
			e := ev
			if !h.send(ctx, client, &protocol.Message{Type: protocol.TypeEvent, WatchID: id, Event: &e}) {
				break
			}
		}
	}
}

// send queues msg for the client. A client whose buffer is full is dropped
// rather than allowed to stall the hub.
func (h *Hub) send(ctx context.Context, client *Client, msg *protocol.Message) bool {
	select {
	case client.send <- msg:
		return true
	default:
		h.log.Warn("client too slow, dropping", "addr", client.addr())
		h.drop(ctx, client)
		return false
	}
}

// drop forgets the client, closes its send channel and deletes the keys it
// asked to have removed on disconnect.
func (h *Hub) drop(ctx context.Context, client *Client) {
	state, ok := h.clients[client]
	if !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.Clients.Dec()
	h.metrics.Watches.Sub(float64(len(state.watches)))
	h.log.Debug("client unregistered", "addr", client.addr())

	if len(state.onDisconnect) == 0 {
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()
	for key := range state.onDisconnect {
		if err := h.store.Delete(opCtx, key); err != nil {
			h.log.Warn("disconnect cleanup failed", "key", key, "err", err)
			continue
		}
		h.metrics.Cleanups.Inc()
		h.log.Info("removed on disconnect", "key", key, "addr", client.addr())
	}
}

func (h *Hub) dropAll() {
	for client := range h.clients {
		h.drop(context.Background(), client)
	}
}
