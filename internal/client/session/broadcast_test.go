package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishSkipsSelf(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint()
	b := hub.Endpoint()

	var aGot, bGot int
	a.Subscribe(TopicActivity, func() { aGot++ })
	b.Subscribe(TopicActivity, func() { bGot++ })

	a.Publish(TopicActivity)

	assert.Zero(t, aGot)
	assert.Equal(t, 1, bGot)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint()
	b := hub.Endpoint()

	var got int
	unsub := b.Subscribe(TopicLogout, func() { got++ })

	a.Publish(TopicLogout)
	unsub()
	a.Publish(TopicLogout)

	assert.Equal(t, 1, got)
}

func TestClosedEndpointReceivesNothing(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint()
	b := hub.Endpoint()

	var got int
	b.Subscribe(TopicActivity, func() { got++ })
	b.Close()

	a.Publish(TopicActivity)
	assert.Zero(t, got)
}

func TestTopicsAreIndependent(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint()
	b := hub.Endpoint()

	var activity, logout int
	b.Subscribe(TopicActivity, func() { activity++ })
	b.Subscribe(TopicLogout, func() { logout++ })

	a.Publish(TopicActivity)

	assert.Equal(t, 1, activity)
	assert.Zero(t, logout)
}
