package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// Producer — синхронный идемпотентный producer. Подтверждение оплаты ждёт
// ack брокера, поэтому асинхронный режим здесь не подходит.
type Producer struct {
	inner  sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам и настраивает producer.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// Идемпотентность требует не более одного запроса в полёте.
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	inner, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{
		inner:  inner,
		logger: log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishEvent сериализует событие в JSON и отправляет его в topic с ключом key.
func (p *Producer) PublishEvent(topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	partition, offset, err := p.inner.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("send message to %s: %w", topic, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

// Close останавливает producer.
func (p *Producer) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// CampaignPublisher адаптирует Producer под доменные порты публикации команд,
// retry-сообщений и поведенческих событий.
type CampaignPublisher struct {
	producer      *Producer
	commandTopic  string
	retryTopic    string
	behaviorTopic string
}

// NewCampaignPublisher создаёт publisher с топиками по умолчанию.
func NewCampaignPublisher(producer *Producer) *CampaignPublisher {
	return &CampaignPublisher{
		producer:      producer,
		commandTopic:  TopicCampaignCommand,
		retryTopic:    TopicPaymentRetry,
		behaviorTopic: TopicBehaviorEvents,
	}
}

// PublishCommand отправляет команду финализации, ключ партиционирования —
// activityID, чтобы команды одной активности шли упорядоченно.
func (cp *CampaignPublisher) PublishCommand(cmd domain.CampaignCommand) error {
	return cp.producer.PublishEvent(cp.commandTopic, strconv.FormatInt(cmd.ActivityID, 10), cmd)
}

// PublishRetry отправляет восстановленную команду в retry-канал.
func (cp *CampaignPublisher) PublishRetry(cmd domain.CampaignCommand) error {
	return cp.producer.PublishEvent(cp.retryTopic, strconv.FormatInt(cmd.ActivityID, 10), cmd)
}

// PublishBehavior отправляет аналитическое событие.
func (cp *CampaignPublisher) PublishBehavior(event BehaviorEvent) error {
	return cp.producer.PublishEvent(cp.behaviorTopic, strconv.FormatInt(event.ActivityID, 10), event)
}

// Publish реализует domain.OutboxPublisher поверх behavior-топика.
func (cp *CampaignPublisher) Publish(event domain.OutboxMessage) error {
	return cp.producer.PublishEvent(cp.behaviorTopic, event.AggregateID, json.RawMessage(event.Payload))
}

var (
	_ domain.CommandPublisher = (*CampaignPublisher)(nil)
	_ domain.OutboxPublisher  = (*CampaignPublisher)(nil)
)
