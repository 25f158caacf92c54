package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_sendInvokesListenersOfType(t *testing.T) {
	hub := NewHub(nil)
	var gotDecision, gotTrack interface{}
	hub.Add(TypeDecision, func(p interface{}) { gotDecision = p })
	hub.Add(TypeTrack, func(p interface{}) { gotTrack = p })

	hub.Send(TypeDecision, "d1")
	assert.Equal(t, "d1", gotDecision)
	assert.Nil(t, gotTrack)
}

func TestHub_failingListenerDoesNotAffectOthers(t *testing.T) {
	hub := NewHub(nil)
	called := false
	hub.Add(TypeLog, func(interface{}) { panic("boom") })
	hub.Add(TypeLog, func(interface{}) { called = true })
	assert.NotPanics(t, func() { hub.Send(TypeLog, nil) })
	assert.True(t, called)
}

func TestHub_clearAndClearAll(t *testing.T) {
	hub := NewHub(nil)
	calls := 0
	hub.Add(TypeActivate, func(interface{}) { calls++ })
	hub.Add(TypeTrack, func(interface{}) { calls++ })

	hub.Clear(TypeActivate)
	hub.Send(TypeActivate, nil)
	hub.Send(TypeTrack, nil)
	assert.Equal(t, 1, calls)

	hub.ClearAll()
	hub.Send(TypeTrack, nil)
	assert.Equal(t, 1, calls)
}
