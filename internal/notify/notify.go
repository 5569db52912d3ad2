// Package notify publishes processing outcomes on a message bus so
// downstream consumers (chat bots, dashboards, job queues) can follow what
// the dispatcher did. Failures here are reported to the caller but must
// never fail webhook processing.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"

	"buildhook/internal"
)

// Topics emitted by the webhook handlers.
const (
	TopicBuildScheduled = "build.scheduled"
	TopicJobCreated     = "job.created"
	TopicJobDeleted     = "job.deleted"
	TopicEventSkipped   = "event.skipped"
	TopicEventFailed    = "event.failed"
)

// Notification is one processed outcome.
type Notification struct {
	Kind       string          `json:"kind"`
	Repository string          `json:"repository,omitempty"`
	Branch     string          `json:"branch,omitempty"`
	Job        string          `json:"job,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	At         time.Time       `json:"at"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Notifier is the outbound notification bus.
type Notifier interface {
	Publish(ctx context.Context, topic string, n Notification) error
	Close() error
}

// DriverFactory builds a watermill publisher for a named driver.
type DriverFactory func(cfg internal.NotifierConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var driverFactories = map[string]DriverFactory{
	"gochannel": newGoChannelDriver,
}

// RegisterDriver makes an out-of-tree driver available under name.
func RegisterDriver(name string, factory DriverFactory) {
	if name == "" || factory == nil {
		return
	}
	driverFactories[strings.ToLower(name)] = factory
}

// New builds a notifier fanning out to every configured driver. Drivers
// that fail to initialize are skipped with a log entry; New fails only
// when no driver at all could be built.
func New(cfg internal.NotifierConfig) (Notifier, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := cfg.Drivers
	if len(drivers) == 0 && cfg.Driver != "" {
		drivers = []string{cfg.Driver}
	}
	if len(drivers) == 0 {
		drivers = []string{"gochannel"}
	}
	if len(drivers) == 1 && strings.ToLower(drivers[0]) == "none" {
		return Nop{}, nil
	}

	built := make(map[string]Notifier, len(drivers))
	order := make([]string, 0, len(drivers))
	for _, driver := range drivers {
		key := strings.ToLower(driver)
		n, err := newDriver(cfg, key, logger)
		if err != nil {
			logger.Error("notifier driver init failed, skipping", err, watermill.LogFields{"driver": key})
			continue
		}
		built[key] = n
		order = append(order, key)
	}
	if len(built) == 0 {
		return nil, errors.New("no notification drivers available")
	}
	return &fanout{drivers: built, order: order}, nil
}

func newDriver(cfg internal.NotifierConfig, driver string, logger watermill.LoggerAdapter) (Notifier, error) {
	switch driver {
	case "http":
		mode := strings.ToLower(cfg.HTTP.Mode)
		if mode != "topic_url" && mode != "base_url" {
			return nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
		}
		if mode == "base_url" && cfg.HTTP.BaseURL == "" {
			return nil, errors.New("http base_url is required for base_url mode")
		}
		pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTarget(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		return &busNotifier{driver: driver, pub: pub}, nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		// The broker may come up after us; retry before giving up.
		pub, err := buildWithRetry(func() (message.Publisher, error) {
			return wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
		})
		if err != nil {
			return nil, err
		}
		return &busNotifier{driver: driver, pub: pub}, nil
	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, errors.New("nats cluster_id and client_id are required")
		}
		natsCfg := wmnats.StreamingPublisherConfig{
			ClusterID: cfg.NATS.ClusterID,
			ClientID:  cfg.NATS.ClientID,
			Marshaler: wmnats.GobMarshaler{},
		}
		if cfg.NATS.URL != "" {
			natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
		}
		pub, err := wmnats.NewStreamingPublisher(natsCfg, logger)
		if err != nil {
			return nil, err
		}
		return &busNotifier{driver: driver, pub: pub}, nil
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, errors.New("amqp url is required")
		}
		amqpCfg, err := amqpConfig(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		pub, err := wmamqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, err
		}
		return &busNotifier{driver: driver, pub: pub}, nil
	case "sql":
		if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
			return nil, errors.New("sql driver and dsn are required")
		}
		adapter, err := schemaAdapter(cfg.SQL.Dialect)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
			SchemaAdapter:        adapter,
			AutoInitializeSchema: cfg.SQL.InitializeSchema,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &busNotifier{driver: driver, pub: pub, closeFn: db.Close}, nil
	case "riverqueue":
		return newRiverQueueNotifier(cfg.RiverQueue)
	default:
		if factory, ok := driverFactories[driver]; ok {
			pub, closeFn, err := factory(cfg, logger)
			if err != nil {
				return nil, err
			}
			return &busNotifier{driver: driver, pub: pub, closeFn: closeFn}, nil
		}
		return nil, fmt.Errorf("unsupported notifier driver: %s", driver)
	}
}

// busNotifier adapts one watermill publisher to the Notifier interface.
type busNotifier struct {
	driver  string
	pub     message.Publisher
	closeFn func() error
}

func (b *busNotifier) Publish(ctx context.Context, topic string, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.pub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
}

func (b *busNotifier) Close() error {
	err := b.pub.Close()
	if b.closeFn != nil {
		return errors.Join(err, b.closeFn())
	}
	return err
}

// fanout publishes to every built driver, joining failures so one broken
// bus never hides the others.
type fanout struct {
	drivers map[string]Notifier
	order   []string
}

func (f *fanout) Publish(ctx context.Context, topic string, n Notification) error {
	var err error
	for _, key := range f.order {
		if publishErr := f.drivers[key].Publish(ctx, topic, n); publishErr != nil {
			internal.IncNotifyFailure(key)
			err = errors.Join(err, fmt.Errorf("driver %s: %w", key, publishErr))
		}
	}
	return err
}

func (f *fanout) Close() error {
	var err error
	for _, key := range f.order {
		err = errors.Join(err, f.drivers[key].Close())
	}
	return err
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Publish(ctx context.Context, topic string, n Notification) error { return nil }
func (Nop) Close() error                                                    { return nil }

func buildWithRetry(build func() (message.Publisher, error)) (message.Publisher, error) {
	const attempts = 10
	const delay = 2 * time.Second

	var lastErr error
	for i := 0; i < attempts; i++ {
		pub, err := build()
		if err == nil {
			return pub, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, lastErr
}

func newGoChannelDriver(cfg internal.NotifierConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	pub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
			Persistent:                     cfg.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
		},
		logger,
	)
	return pub, nil, nil
}

func amqpConfig(url, mode string) (wmamqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func schemaAdapter(dialect string) (wmsql.SchemaAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func httpTarget(cfg internal.HTTPNotifierConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", errors.New("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", errors.New("http base_url is empty")
		}
		if topic == "" {
			return strings.TrimRight(cfg.BaseURL, "/"), nil
		}
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
