package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"

	"github.com/DATN-PetShop/ServerPetShop/models"
)

// Broadcaster 把 feed 里的消息推回房间，由 websocket 网关实现。
type Broadcaster interface {
	BroadcastNewMessage(ctx context.Context, message *models.ChatMessage)
}

type ChatEventHandler struct {
	broadcaster Broadcaster
}

func NewChatEventHandler(broadcaster Broadcaster) *ChatEventHandler {
	return &ChatEventHandler{broadcaster: broadcaster}
}

func (h *ChatEventHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event MessageEvent

	if err := json.Unmarshal(message.Value, &event); err != nil {
		log.Printf("Failed to unmarshal chat event: %v", err)
		return err
	}

	log.Printf("Rebroadcasting message %d to room %d", event.MessageID, event.RoomID)

	msg := &models.ChatMessage{
		ID:          event.MessageID,
		RoomID:      event.RoomID,
		SenderID:    event.SenderID,
		Content:     event.Content,
		MessageType: event.MessageType,
		IsRead:      event.IsRead,
		CreatedAt:   event.CreatedAt,
	}

	h.broadcaster.BroadcastNewMessage(ctx, msg)
	return nil
}
