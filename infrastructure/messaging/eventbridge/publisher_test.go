package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/events"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEventBridge struct {
	inputs []*eventbridge.PutEventsInput
	output *eventbridge.PutEventsOutput
	err    error
}

func (f *fakeEventBridge) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func savedEvent(i int) events.DomainEvent {
	return events.NewDocumentSaved(valueobjects.MustDocumentID("doc-1"), i, "alice", 2, 1, "abc", time.Now())
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeEventBridge{}
	p := NewPublisher(client, "diagrams-bus", zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), savedEvent(3)))

	require.Len(t, client.inputs, 1)
	require.Len(t, client.inputs[0].Entries, 1)
	entry := client.inputs[0].Entries[0]
	assert.Equal(t, "diagrams-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, Source, aws.ToString(entry.Source))
	assert.Equal(t, events.TypeDocumentSaved, aws.ToString(entry.DetailType))
	assert.Equal(t, []string{"diagram:doc-1"}, entry.Resources)

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "doc-1", detail["aggregateId"])
}

func TestPublisher_BatchesByTen(t *testing.T) {
	client := &fakeEventBridge{}
	p := NewPublisher(client, "bus", zap.NewNop())

	batch := make([]events.DomainEvent, 0, 23)
	for i := 0; i < 23; i++ {
		batch = append(batch, savedEvent(i))
	}
	require.NoError(t, p.PublishBatch(context.Background(), batch))

	require.Len(t, client.inputs, 3)
	assert.Len(t, client.inputs[0].Entries, 10)
	assert.Len(t, client.inputs[1].Entries, 10)
	assert.Len(t, client.inputs[2].Entries, 3)
}

func TestPublisher_Failures(t *testing.T) {
	t.Run("client error", func(t *testing.T) {
		p := NewPublisher(&fakeEventBridge{err: errors.New("throttled")}, "bus", zap.NewNop())
		err := p.Publish(context.Background(), savedEvent(1))
		assert.ErrorContains(t, err, "throttled")
	})

	t.Run("failed entries", func(t *testing.T) {
		client := &fakeEventBridge{output: &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries:          []types.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
		}}
		p := NewPublisher(client, "bus", zap.NewNop())
		err := p.Publish(context.Background(), savedEvent(1))
		assert.ErrorContains(t, err, "1 events failed")
	})
}

func TestLogPublisher_NeverFails(t *testing.T) {
	p := NewLogPublisher(zap.NewNop())
	assert.NoError(t, p.PublishBatch(context.Background(), []events.DomainEvent{savedEvent(1), savedEvent(2)}))
}
