package kafka

import (
	"log"

	"github.com/IBM/sarama"
)

type ChatEventInterceptor struct {
}

func (i *ChatEventInterceptor) OnSend(msg *sarama.ProducerMessage) {
	log.Printf("拦截到准备发送的消息，Topic: %s", msg.Topic)
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("intercepted-by"),
		Value: []byte("ChatEventInterceptor"),
	})
}

func NewChatEventInterceptor() *ChatEventInterceptor {
	return &ChatEventInterceptor{}
}
