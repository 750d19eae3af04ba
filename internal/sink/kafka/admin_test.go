package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAdmin struct {
	metadata    *kafka.Metadata
	metadataErr error
	created     []kafka.TopicSpecification
	createCode  kafka.ErrorCode
	increasedTo int
}

func (f *fakeAdmin) GetMetadata(*string, bool, int) (*kafka.Metadata, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	if f.metadata == nil {
		return &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{}}, nil
	}
	return f.metadata, nil
}

func (f *fakeAdmin) CreateTopics(_ context.Context, topics []kafka.TopicSpecification, _ ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	f.created = append(f.created, topics...)
	results := make([]kafka.TopicResult, len(topics))
	for i, t := range topics {
		results[i] = kafka.TopicResult{Topic: t.Topic, Error: kafka.NewError(f.createCode, "", false)}
	}
	return results, nil
}

func (f *fakeAdmin) CreatePartitions(_ context.Context, specs []kafka.PartitionsSpecification, _ ...kafka.CreatePartitionsAdminOption) ([]kafka.TopicResult, error) {
	results := make([]kafka.TopicResult, len(specs))
	for i, s := range specs {
		f.increasedTo = s.IncreaseTo
		results[i] = kafka.TopicResult{Topic: s.Topic, Error: kafka.NewError(kafka.ErrNoError, "", false)}
	}
	return results, nil
}

func topicWithPartitions(name string, partitions, replicas int) *kafka.Metadata {
	tm := kafka.TopicMetadata{Topic: name, Error: kafka.NewError(kafka.ErrNoError, "", false)}
	for i := 0; i < partitions; i++ {
		pm := kafka.PartitionMetadata{ID: int32(i)}
		for r := 0; r < replicas; r++ {
			pm.Replicas = append(pm.Replicas, int32(r))
		}
		tm.Partitions = append(tm.Partitions, pm)
	}
	return &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{name: tm}}
}

func TestTopicConfigValidate(t *testing.T) {
	assert.NoError(t, TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1}.Validate())
	assert.Error(t, TopicConfig{NumPartitions: 1, ReplicationFactor: 1}.Validate())
	assert.Error(t, TopicConfig{Name: "t", ReplicationFactor: 1}.Validate())
	assert.Error(t, TopicConfig{Name: "t", NumPartitions: 1}.Validate())
}

func TestEnsureTopicCreatesMissingTopic(t *testing.T) {
	admin := &fakeAdmin{}
	err := EnsureTopic(context.Background(), admin, TopicConfig{Name: "load", NumPartitions: 3, ReplicationFactor: 1}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.Len(t, admin.created, 1)
	assert.Equal(t, "load", admin.created[0].Topic)
	assert.Equal(t, 3, admin.created[0].NumPartitions)
}

func TestEnsureTopicAlreadyExistsRace(t *testing.T) {
	admin := &fakeAdmin{createCode: kafka.ErrTopicAlreadyExists}
	err := EnsureTopic(context.Background(), admin, TopicConfig{Name: "load", NumPartitions: 1, ReplicationFactor: 1}, zaptest.NewLogger(t).Sugar())
	assert.NoError(t, err)
}

func TestEnsureTopicCreateFailure(t *testing.T) {
	admin := &fakeAdmin{createCode: kafka.ErrTopicAuthorizationFailed}
	err := EnsureTopic(context.Background(), admin, TopicConfig{Name: "load", NumPartitions: 1, ReplicationFactor: 1}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to create topic "load"`)
}

func TestEnsureTopicGrowsPartitions(t *testing.T) {
	admin := &fakeAdmin{metadata: topicWithPartitions("load", 2, 1)}
	err := EnsureTopic(context.Background(), admin, TopicConfig{Name: "load", NumPartitions: 6, ReplicationFactor: 1}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Empty(t, admin.created)
	assert.Equal(t, 6, admin.increasedTo)
}

func TestEnsureTopicKeepsLargerTopic(t *testing.T) {
	admin := &fakeAdmin{metadata: topicWithPartitions("load", 8, 3)}
	err := EnsureTopic(context.Background(), admin, TopicConfig{Name: "load", NumPartitions: 2, ReplicationFactor: 1}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Empty(t, admin.created)
	assert.Zero(t, admin.increasedTo)
}

func TestEnsureTopicMetadataError(t *testing.T) {
	admin := &fakeAdmin{metadataErr: errors.New("broker unreachable")}
	err := EnsureTopic(context.Background(), admin, TopicConfig{Name: "load", NumPartitions: 1, ReplicationFactor: 1}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check topic existence")
}

func TestTopicExistsUnknownTopic(t *testing.T) {
	admin := &fakeAdmin{metadata: &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{
		"load": {Topic: "load", Error: kafka.NewError(kafka.ErrUnknownTopicOrPart, "", false)},
	}}}
	md, err := TopicExists(admin, "load")
	require.NoError(t, err)
	assert.Nil(t, md)
}
