// Package kafka 提供了变更事件流的生产者与消费者。
package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/pkg/events"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// EventHandler 是变更事件的消费接口。
// 它把 Kafka 消费循环与具体的通知逻辑解耦。
type EventHandler interface {
	Handle(ctx context.Context, ev events.ChangeEvent) error
}

// Producer 将变更事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化变更事件生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 变更事件生产者初始化成功")
	return &Producer{writer: w}
}

// PublishChange 发送一个变更事件。事件以空间 ID 作为 key，
// 保证同一空间的事件落在同一分区、按序消费。
func (p *Producer) PublishChange(ctx context.Context, ev events.ChangeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Scope),
		Value: value,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动变更事件消费循环，直到 ctx 取消。
// 事件只是刷新提示，处理失败时记录日志并提交 offset，不做重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler EventHandler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 变更事件消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者收到退出信号")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		var ev events.ChangeEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("无法解析变更事件: %v, value: %s", err, string(m.Value))
		} else if err := handler.Handle(ctx, ev); err != nil {
			log.Errorf("处理变更事件失败: scope=%s, error: %v", ev.Scope, err)
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}
