package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2md/internal/domain"
)

func TestFromTaskCarriesSummary(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := domain.NewTask("t1", "a.pdf", domain.TaskTypeOCR, now)
	require.NoError(t, task.Start(now))
	require.NoError(t, task.Complete(now, domain.ResultBundle{
		TaskID:  "t1",
		Summary: domain.Summary{TotalPages: 2, SuccessfulPages: 2, SuccessRate: "100.0%"},
	}, "done"))

	evt := FromTask(TypeCompleted, task, now)

	assert.Equal(t, "completed", evt.Status)
	assert.Equal(t, 100, evt.Progress)
	require.NotNil(t, evt.Summary)
	assert.Equal(t, 2, evt.Summary.TotalPages)
}

func TestEncodeKeysByTask(t *testing.T) {
	evt := Event{Type: TypeFailed, TaskID: "t9", Error: "boom", At: time.Unix(1700000000, 0).UTC()}

	msg, err := Encode(evt)
	require.NoError(t, err)

	assert.Equal(t, []byte("t9"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeFailed, string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "boom", decoded["error"])
	assert.NotContains(t, decoded, "summary")
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "x"})
	assert.True(t, domain.IsKind(err, domain.KindConfig))

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.True(t, domain.IsKind(err, domain.KindConfig))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: TypeStarted}))
	assert.NoError(t, p.Close())
}
