package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationParticipants(t *testing.T) {
	c := &Conversation{ID: "bk-1", CustomerID: "A", ProviderID: "B"}

	assert.True(t, c.HasParticipant("A"))
	assert.True(t, c.HasParticipant("B"))
	assert.False(t, c.HasParticipant("C"))
	assert.False(t, c.HasParticipant(""))

	assert.Equal(t, "B", c.PeerOf("A"))
	assert.Equal(t, "A", c.PeerOf("B"))
	assert.Empty(t, c.PeerOf("C"))
}
