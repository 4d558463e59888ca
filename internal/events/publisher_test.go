package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeProducer) WriteMessage(ctx context.Context, msg kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	// Arrange
	fp := &fakeProducer{}
	p := newKafkaPublisher(fp, zap.NewNop())
	e := New(TypeSweetPurchased, 42, map[string]int{"quantity": 3})

	// Act
	err := p.Publish(context.Background(), e)

	// Assert
	require.NoError(t, err)
	require.Len(t, fp.msgs, 1)
	assert.Equal(t, "42", string(fp.msgs[0].Key))
	assert.Equal(t, TypeSweetPurchased, string(fp.msgs[0].Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fp.msgs[0].Value, &decoded))
	assert.Equal(t, TypeSweetPurchased, decoded["type"])
	assert.Equal(t, float64(42), decoded["sweetId"])
	assert.NotEmpty(t, decoded["id"])
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	fp := &fakeProducer{err: errors.New("broker down")}
	p := newKafkaPublisher(fp, zap.NewNop())

	err := p.Publish(context.Background(), New(TypeSweetRestocked, 1, nil))

	assert.EqualError(t, err, "broker down")
}

func TestKafkaPublisher_Close(t *testing.T) {
	fp := &fakeProducer{}
	p := newKafkaPublisher(fp, zap.NewNop())

	require.NoError(t, p.Close())
	assert.True(t, fp.closed)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), New(TypeSweetPurchased, 1, nil)))
	assert.NoError(t, p.Close())
}
