package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type ClientMessage struct {
	Client  *Client
	Message Message
}

// Hub serializes connection lifecycle and message dispatch onto one
// goroutine, the way the rest of the connection handling expects.
type Hub struct {
	Register      chan *Client
	Unregister    chan *Client
	HandleMessage chan *ClientMessage

	manager *Manager

	registered map[*Client]bool
}

func NewHub(manager *Manager) *Hub {
	return &Hub{
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		HandleMessage: make(chan *ClientMessage),
		manager:       manager,
		registered:    make(map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case clientMsg := <-h.HandleMessage:
			h.handleClientMessage(clientMsg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.registered[client] = true
	log.Printf("Client registered: player=%d, match=%s", client.FID, client.MatchID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		room, err := h.manager.GetOrCreateRoom(ctx, client.MatchID)
		if err != nil {
			log.Printf("Failed to open room for match %s: %v", client.MatchID, err)
			client.SendError("Failed to join match")
			go func() {
				time.Sleep(500 * time.Millisecond)
				h.Unregister <- client
			}()
			return
		}
		room.AttachClient(client)
	}()
}

func (h *Hub) unregisterClient(client *Client) {
	if !h.registered[client] {
		return
	}
	delete(h.registered, client)

	// detach before closing: a room timer may be mid-broadcast to this
	// client on another goroutine
	if room, ok := h.manager.GetRoom(client.MatchID); ok {
		room.DetachClient(client)
	}
	client.closeSend()
	log.Printf("Client unregistered: player=%d, match=%s", client.FID, client.MatchID)
}

func (h *Hub) handleClientMessage(clientMsg *ClientMessage) {
	client := clientMsg.Client
	msg := clientMsg.Message

	switch msg.Type {
	case MessageTypeJoinGame:
		// attachment happened at register; re-confirm for reconnect flows
		if room, ok := h.manager.GetRoom(client.MatchID); ok {
			room.AttachClient(client)
		}

	case MessageTypePlayerReady:
		room, ok := h.manager.GetRoom(client.MatchID)
		if !ok {
			client.SendError("Match not found")
			return
		}
		room.HandleReady(client.FID)

	case MessageTypeSubmitAnswer:
		room, ok := h.manager.GetRoom(client.MatchID)
		if !ok {
			client.SendError("Match not found")
			return
		}
		var payload SubmitAnswerPayload
		if err := decodePayload(msg.Payload, &payload); err != nil {
			client.SendError("Invalid answer format")
			return
		}
		go room.HandleAnswer(client, payload)

	case MessageTypeLeaveGame:
		if room, ok := h.manager.GetRoom(client.MatchID); ok {
			go room.Forfeit(client.FID)
		}

	case MessageTypeRequestRematch:
		var payload RequestRematchPayload
		if err := decodePayload(msg.Payload, &payload); err != nil {
			client.SendError("Invalid rematch request")
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.manager.RequestRematch(ctx, client.MatchID, client.FID, payload.Topic); err != nil {
				log.Printf("Rematch request failed for match %s: %v", client.MatchID, err)
				client.SendError("Rematch request failed")
			}
		}()

	case MessageTypePing:
		client.SendMessage(MessageTypePong, nil)

	default:
		client.SendError(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func decodePayload(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
