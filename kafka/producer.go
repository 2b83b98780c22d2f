package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"github.com/DATN-PetShop/ServerPetShop/models"
)

// MessageEvent 消息落库后发到 change feed 的事件体。
// bridge 消费后据此重建消息再广播，所以字段要够重建用。
type MessageEvent struct {
	MessageID   uint      `json:"message_id"`
	RoomID      uint      `json:"room_id"`
	SenderID    uint      `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string, config *sarama.Config) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer, topic: topic}, nil
}

// PublishMessageCreated 实现 repository.MessageEventPublisher。
// key 用 room_id，保证同一房间的事件有序。
func (p *Producer) PublishMessageCreated(ctx context.Context, m *models.ChatMessage) error {
	event := MessageEvent{
		MessageID:   m.ID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.MessageType,
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
	}
	return p.send(fmt.Sprintf("%d", m.RoomID), event)
}

func (p *Producer) send(key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonValue),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Printf("Failed to send message event: %v", err)
		return err
	}

	log.Printf("Message event sent to partition %d at offset %d", partition, offset)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
