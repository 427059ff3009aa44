package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/membership-portal/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "portal-dev"}

	assert.Equal(t, "projects/portal-dev/topics/store-events", c.topicResourceName(" store-events "))
	assert.Equal(t, "projects/other/topics/x", c.topicResourceName("projects/other/topics/x"))
	assert.Equal(t, "projects/portal-dev/subscriptions/mailer", c.subscriptionResourceName("mailer"))
	assert.Equal(t, "projects/portal-dev/subscriptions/projects/other/topics/x",
		c.subscriptionResourceName("projects/other/topics/x"), "a topic path is not a subscription path")
	assert.Equal(t, "", c.subscriptionResourceName("  "))

	var nilClient *Client
	assert.Equal(t, "", nilClient.topicResourceName("store-events"))
	assert.Nil(t, nilClient.Publisher("store-events"))
	assert.Nil(t, nilClient.StoreSubscription())
	assert.NoError(t, nilClient.Close())
}

func TestDescribeLookup(t *testing.T) {
	assert.NoError(t, describeLookup("topic", "store", nil))

	err := describeLookup("topic", "store", status.Error(codes.NotFound, "gone"))
	assert.EqualError(t, err, `topic "store" does not exist`)

	cause := status.Error(codes.PermissionDenied, "nope")
	err = describeLookup("subscription", "mailer", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, RolePublisher, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	var uninitialized *Client
	assert.Error(t, uninitialized.Ping(context.Background()))
}
