package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// MessageHandler обрабатывает одно сообщение из брокера.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer — consumer group поверх топиков команд финализации и retry.
// Сообщение не подтверждается, пока обработчик не вернул nil либо сообщение
// не ушло в DLQ; повторная доставка отличается заголовком retry count.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	dlq        *Producer
	maxRetries int
	logger     *log.Entry
	wg         sync.WaitGroup
}

// NewConsumerWithDLQ создаёт consumer; dlqProducer == nil отключает DLQ,
// тогда необработанное сообщение остаётся неподтверждённым.
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler MessageHandler, dlqProducer *Producer, maxRetries int) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		dlq:        dlqProducer,
		maxRetries: maxRetries,
		logger:     log.WithField("component", "kafka-consumer"),
	}, nil
}

// Start запускает цикл потребления и чтение ошибок группы.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)

	go func() {
		defer c.wg.Done()
		// Consume возвращается при каждом rebalance, поэтому крутится в цикле.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume loop error")
			}
		}
	}()

	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и дожидается завершения горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if session.Context().Err() != nil {
			return nil
		}
		if c.process(session.Context(), message) {
			session.MarkMessage(message, "")
		}
	}
	return nil
}

// process возвращает true, когда сообщение можно подтвердить: успешная
// обработка либо уход в DLQ после исчерпания попыток.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	err := c.handler(ctx, message)
	if err == nil {
		return true
	}

	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}

	attempts := retryCountOf(message)
	if attempts < c.maxRetries {
		c.logger.WithError(err).WithFields(fields).
			WithField("retry_count", attempts).Warn("message processing failed, will retry")
		return false
	}

	if c.dlq == nil {
		c.logger.WithError(err).WithFields(fields).Error("message processing failed, no DLQ configured")
		return false
	}

	if dlqErr := c.forwardToDLQ(message, err, attempts); dlqErr != nil {
		c.logger.WithError(dlqErr).WithFields(fields).Error("failed to forward message to DLQ")
		return false
	}

	c.logger.WithFields(fields).WithField("retry_count", attempts).Info("message sent to DLQ after max retries")
	return true
}

func (c *Consumer) forwardToDLQ(message *sarama.ConsumerMessage, processingErr error, attempts int) error {
	envelope := map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        attempts,
	}
	return c.dlq.PublishEvent(TopicDeadLetterQueue, string(message.Key), envelope)
}

// retryCountOf извлекает счётчик повторов из заголовков сообщения.
func retryCountOf(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

// ParseCampaignCommand декодирует команду финализации из сообщения.
func ParseCampaignCommand(message *sarama.ConsumerMessage) (*domain.CampaignCommand, error) {
	var cmd domain.CampaignCommand
	if err := json.Unmarshal(message.Value, &cmd); err != nil {
		return nil, fmt.Errorf("unmarshal campaign command: %w", err)
	}
	return &cmd, nil
}
