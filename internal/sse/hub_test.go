package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesTopicOnly(t *testing.T) {
	h := New()
	a, unsubA := h.Subscribe("video:a")
	defer unsubA()
	b, unsubB := h.Subscribe("video:b")
	defer unsubB()

	h.Publish("video:a", Event{Type: "progress", Data: `{"progress":10}`})

	select {
	case evt := <-a:
		assert.Equal(t, "progress", evt.Type)
	default:
		t.Fatal("subscriber on video:a got nothing")
	}
	select {
	case evt := <-b:
		t.Fatalf("unexpected event on video:b: %+v", evt)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("video:a")
	require.Equal(t, 1, h.Subscribers("video:a"))

	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("video:a"))

	// publishing to a topic with no listeners is a no-op
	h.Publish("video:a", Event{Type: "export_done"})
}

func TestSlowSubscriberIsSkipped(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("video:a")
	defer unsub()

	for i := 0; i < 40; i++ {
		h.Publish("video:a", Event{Type: "progress"})
	}
	assert.Len(t, ch, cap(ch))
}
