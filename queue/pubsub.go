package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/dapr/go-sdk/service/common"
	daprs "github.com/dapr/go-sdk/service/grpc"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Publisher publishes continuation messages for search jobs
type Publisher interface {
	PublishContinuation(ctx context.Context, jobID string, delay time.Duration) error
}

// PubSubClient provides an abstraction over Dapr PubSub for the
// continuation queue
type PubSubClient struct {
	daprClient daprc.Client
	pubsubName string
	topic      string
	webhookURL string
	appPort    string

	subscription func(context.Context, *common.TopicEvent) (retry bool, err error)
}

// NewPubSubClient creates a new PubSub client. The webhook URL is carried in
// every continuation message so queue-side failure notifications can name
// the endpoint that was being driven.
func NewPubSubClient(pubsubName, topic, webhookURL string, appPort int) (*PubSubClient, error) {
	client, err := newDaprClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Dapr client: %w", err)
	}

	return &PubSubClient{
		daprClient: client,
		pubsubName: pubsubName,
		topic:      topic,
		webhookURL: webhookURL,
		appPort:    fmt.Sprintf(":%d", appPort),
	}, nil
}

// newDaprClient dials the Dapr sidecar with enlarged message limits; result
// batches riding along with messages can exceed the default 4 MB.
func newDaprClient() (daprc.Client, error) {
	maxSizeInBytes := 64 * 1024 * 1024

	var callOpts []grpc.CallOption
	callOpts = append(callOpts,
		grpc.MaxCallRecvMsgSize(maxSizeInBytes),
		grpc.MaxCallSendMsgSize(maxSizeInBytes),
	)

	daprPort := os.Getenv("DAPR_GRPC_PORT")
	if daprPort == "" {
		daprPort = "50001"
	}

	conn, err := grpc.NewClient(
		net.JoinHostPort("127.0.0.1", daprPort),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	return daprc.NewClientWithConnection(conn), nil
}

// Close closes the PubSub client
func (p *PubSubClient) Close() error {
	if p.daprClient != nil {
		p.daprClient.Close()
	}
	return nil
}

// PublishContinuation publishes a continuation message for a job. The delay
// is forwarded as publish metadata for components with native delayed
// delivery and carried in the payload as a fallback.
func (p *PubSubClient) PublishContinuation(ctx context.Context, jobID string, delay time.Duration) error {
	message := NewContinuationMessage(p.webhookURL, jobID, delay)
	if err := message.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal continuation message: %w", err)
	}

	err = p.daprClient.PublishEvent(ctx, p.pubsubName, p.topic, data,
		daprc.PublishEventWithMetadata(map[string]string{
			"delay": message.Delay,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to publish continuation for job %s: %w", jobID, err)
	}

	log.Debug().
		Str("job_id", jobID).
		Str("delay", message.Delay).
		Int("retries", message.Retries).
		Str("trace_id", message.TraceID).
		Msg("Published continuation message")

	return nil
}

// SubscribeToContinuations registers the handler invoked for every queue
// delivery. The handler must tolerate duplicates.
func (p *PubSubClient) SubscribeToContinuations(handler func(context.Context, ContinuationMessage) error) {
	p.subscription = func(ctx context.Context, e *common.TopicEvent) (retry bool, err error) {
		log.Debug().
			Str("topic", e.Topic).
			Str("pubsub_name", e.PubsubName).
			Msg("Received continuation message")

		var message ContinuationMessage
		if err := json.Unmarshal(e.RawData, &message); err != nil {
			log.Error().Err(err).Msg("Failed to unmarshal continuation message")
			return false, err // Don't retry on unmarshal errors
		}

		if err := handler(ctx, message); err != nil {
			log.Error().
				Err(err).
				Str("job_id", message.Body.JobID).
				Str("trace_id", message.TraceID).
				Msg("Failed to handle continuation message")
			return true, err // Retry on handler errors
		}

		return false, nil
	}
}

// StartServer starts the Dapr service with the registered subscription
func (p *PubSubClient) StartServer(ctx context.Context) error {
	if p.subscription == nil {
		log.Info().Msg("No subscription registered, skipping server start")
		return nil
	}

	server, err := daprs.NewService(p.appPort)
	if err != nil {
		return fmt.Errorf("failed to create Dapr service: %w", err)
	}

	subscription := &common.Subscription{
		PubsubName: p.pubsubName,
		Topic:      p.topic,
		Route:      "/" + p.topic,
	}

	if err := server.AddTopicEventHandler(subscription, p.subscription); err != nil {
		return fmt.Errorf("failed to add topic event handler for %s: %w", p.topic, err)
	}

	log.Info().
		Str("topic", p.topic).
		Str("port", p.appPort).
		Str("pubsub", p.pubsubName).
		Msg("Starting Dapr PubSub server")

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Dapr PubSub server failed")
		}
	}()

	return nil
}
