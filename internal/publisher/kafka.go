package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/model"
)

// TopicInsights is the key of the insight topic in kafka.topics
const TopicInsights = "insights"

// MessageWriter is the part of kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes recomputed insights for downstream alerting
type Kafka struct {
	writer MessageWriter
	now    func() time.Time
}

// insightMessage is the wire form of a published insight
type insightMessage struct {
	InsightID       string                 `json:"insight_id"`
	ProjectID       string                 `json:"project_id"`
	Type            model.IssueType        `json:"type"`
	Severity        model.Severity         `json:"severity"`
	Trend           model.Trend            `json:"trend"`
	Status          model.InsightStatus    `json:"status"`
	Title           string                 `json:"title"`
	URL             string                 `json:"url"`
	MetricValue     float64                `json:"metric_value"`
	OccurrenceCount int                    `json:"occurrence_count"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	LastSeenAt      int64                  `json:"last_seen_at"`
	PublishedAt     int64                  `json:"published_at"`
}

// NewKafka returns nil when no brokers or insight topic are configured
func NewKafka(cfg config.KafkaConfig) *Kafka {
	topic := cfg.Topics[TopicInsights]
	if len(cfg.Brokers) == 0 || topic == "" {
		return nil
	}

	return NewKafkaWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	})
}

func NewKafkaWithWriter(w MessageWriter) *Kafka {
	return &Kafka{writer: w, now: time.Now}
}

// PublishInsights writes one message per insight keyed by project id
func (k *Kafka) PublishInsights(ctx context.Context, insights []model.Insight) error {
	msgs, err := k.messages(insights)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.Wrap(k.writer.WriteMessages(ctx, msgs...), "write insight messages")
}

func (k *Kafka) messages(insights []model.Insight) ([]kafka.Message, error) {
	publishedAt := k.now().UnixMilli()

	msgs := make([]kafka.Message, 0, len(insights))
	for _, ins := range insights {
		data, err := json.Marshal(insightMessage{
			InsightID:       ins.ID,
			ProjectID:       ins.ProjectID,
			Type:            ins.Type,
			Severity:        ins.Severity,
			Trend:           ins.Trend.OrNew(),
			Status:          ins.Status,
			Title:           ins.Title,
			URL:             ins.URL,
			MetricValue:     ins.MetricValue,
			OccurrenceCount: ins.OccurrenceCount,
			Metadata:        ins.Metadata,
			LastSeenAt:      ins.LastSeenAt.UnixMilli(),
			PublishedAt:     publishedAt,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "marshal insight %s", ins.ID)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ins.ProjectID),
			Value: data,
		})
	}
	return msgs, nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
