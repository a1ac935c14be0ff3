// Package eventbridge implements the event bus publisher port on Amazon EventBridge.
// Delivery to the analyzer happens through an EventBridge API destination that
// POSTs matched events to the HTTP events endpoint.
package eventbridge

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	eb "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/port/eventbus"
)

// API is the subset of the EventBridge client used here.
type API interface {
	PutEvents(ctx context.Context, in *eb.PutEventsInput, optFns ...func(*eb.Options)) (*eb.PutEventsOutput, error)
}

// Publisher puts one event per call on a named bus.
type Publisher struct {
	api     API
	busName string
}

// New creates a Publisher. Every request carries the webhook user agent.
func New(cfg aws.Config, busName string) *Publisher {
	client := eb.NewFromConfig(cfg, func(o *eb.Options) {
		o.APIOptions = append(o.APIOptions,
			awsmiddleware.AddUserAgentKeyValue("fURLWebhook", "1.0"),
			awsmiddleware.AddUserAgentKey("HashiCorp"),
		)
	})
	return NewWithAPI(client, busName)
}

// NewWithAPI creates a Publisher over a custom client.
func NewWithAPI(api API, busName string) *Publisher {
	return &Publisher{api: api, busName: busName}
}

func (p *Publisher) Publish(ctx context.Context, env runtask.Envelope) (eventbus.PublishResult, error) {
	entry := types.PutEventsRequestEntry{
		Source:       aws.String(env.Source),
		DetailType:   aws.String(env.DetailType),
		Detail:       aws.String(string(env.Detail)),
		EventBusName: aws.String(p.busName),
	}
	if !env.Time.IsZero() {
		entry.Time = aws.Time(env.Time)
	}

	out, err := p.api.PutEvents(ctx, &eb.PutEventsInput{Entries: []types.PutEventsRequestEntry{entry}})
	if err != nil {
		return eventbus.PublishResult{}, fmt.Errorf("eventbridge put events: %w", err)
	}

	res := eventbus.PublishResult{FailedEntryCount: int(out.FailedEntryCount)}
	for _, e := range out.Entries {
		res.Entries = append(res.Entries, eventbus.EntryResult{
			EventID:      aws.ToString(e.EventId),
			ErrorCode:    aws.ToString(e.ErrorCode),
			ErrorMessage: aws.ToString(e.ErrorMessage),
		})
	}
	return res, nil
}
