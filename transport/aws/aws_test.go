package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowscope/transport"
)

type mockPublisher struct{}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }

func stubAWS(t *testing.T, loadErr, pubErr, subErr error) {
	t.Helper()
	origLoader, origResolver, origPub, origSub := DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory = origLoader, origResolver, origPub, origSub
	})
	DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "eu-west-1"}, loadErr
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return &sns.GenerateArnTopicResolver{}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		if pubErr != nil {
			return nil, pubErr
		}
		return &mockPublisher{}, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		if subErr != nil {
			return nil, subErr
		}
		return &mockSubscriber{}, nil
	}
}

func awsOptions() transport.Options {
	return transport.Options{AWS: transport.AWSOptions{Region: "us-east-1", AccountID: "123456789012"}}
}

func TestBuild(t *testing.T) {
	stubAWS(t, nil, nil, nil)
	tr, err := Build(context.Background(), awsOptions(), watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestBuildWithEndpointSetsResolvers(t *testing.T) {
	stubAWS(t, nil, nil, nil)
	var pubOpts, sqsOpts int
	PublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		pubOpts = len(cfg.OptFns)
		return &mockPublisher{}, nil
	}
	SubscriberFactory = func(_ sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		sqsOpts = len(sqsCfg.OptFns)
		return &mockSubscriber{}, nil
	}

	opts := awsOptions()
	opts.AWS.Endpoint = "http://localhost:4566"
	_, err := Build(context.Background(), opts, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 1, pubOpts)
	assert.Equal(t, 1, sqsOpts)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name                    string
		loadErr, pubErr, subErr error
		want                    string
	}{
		{"config", errors.New("config error"), nil, nil, "config error"},
		{"publisher", nil, errors.New("publisher error"), nil, "publisher error"},
		{"subscriber", nil, nil, errors.New("subscriber error"), "subscriber error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubAWS(t, tt.loadErr, tt.pubErr, tt.subErr)
			_, err := Build(context.Background(), awsOptions(), watermill.NopLogger{})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestResolveAccountAndRegion(t *testing.T) {
	account, region := resolveAccountAndRegion(transport.AWSOptions{AccountID: "123456789012", Region: "us-west-2"}, "us-east-1")
	assert.Equal(t, "123456789012", account)
	assert.Equal(t, "us-west-2", region)

	_, region = resolveAccountAndRegion(transport.AWSOptions{}, "us-east-1")
	assert.Equal(t, "us-east-1", region)

	account, _ = resolveAccountAndRegion(transport.AWSOptions{Endpoint: "http://localhost:4566"}, "")
	assert.Equal(t, localstackAccountID, account)

	account, _ = resolveAccountAndRegion(transport.AWSOptions{Endpoint: "http://localhost:4566", AccountID: "'42'"}, "")
	assert.Equal(t, localstackAccountID, account)
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL("")
	assert.NoError(t, err)
	assert.Nil(t, u)

	u, err = endpointURL("http://localhost:4566")
	require.NoError(t, err)
	assert.Equal(t, "localhost:4566", u.Host)

	_, err = endpointURL("://bad")
	assert.Error(t, err)
}
