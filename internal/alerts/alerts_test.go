package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidespike/internal/config"
	"tidespike/internal/model"
)

func spikeAt(station string, minute int) model.Spike {
	return model.Spike{
		Timestamp: time.Date(2018, 8, 1, 0, minute, 0, 0, time.UTC),
		Station:   station,
		Value:     float64(minute),
		Reason:    model.ReasonAboveUpper,
	}
}

func TestStoreRingOverwritesOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(spikeAt("a", i))
	}
	assert.Equal(t, 3, s.Len())
	got := s.List("", 0)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].Value)
	assert.Equal(t, 4.0, got[2].Value)

	got = s.List("", 2)
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Value)
}

func TestStoreFiltersByStationAndTime(t *testing.T) {
	s := NewStore(10)
	s.Add(spikeAt("a", 1), spikeAt("b", 2), spikeAt("a", 3))
	assert.Len(t, s.List("a", 0), 2)
	assert.Len(t, s.List("c", 0), 0)

	since := s.Since(time.Date(2018, 8, 1, 0, 2, 0, 0, time.UTC))
	require.Len(t, since, 2)
	assert.Equal(t, "b", since[0].Station)

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.List("", 0))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherEncodesSpikes(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "tidespike.spikes", nil)
	require.NoError(t, p.Publish(context.Background(), []model.Spike{spikeAt("8772471", 6)}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "8772471", string(w.msgs[0].Key))

	var decoded model.Spike
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, model.ReasonAboveUpper, decoded.Reason)
	assert.Equal(t, 6.0, decoded.Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherPropagatesErrors(t *testing.T) {
	p := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")}, "t", nil)
	assert.Error(t, p.Publish(context.Background(), []model.Spike{spikeAt("a", 1)}))
	assert.NoError(t, p.Publish(context.Background(), nil))
}

func TestNewKafkaPublisherConfig(t *testing.T) {
	p, err := NewKafkaPublisher(config.KafkaConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, p.Publish(context.Background(), []model.Spike{spikeAt("a", 1)}))

	_, err = NewKafkaPublisher(config.KafkaConfig{Enabled: true, Topic: "t"}, nil)
	assert.Error(t, err)
}
