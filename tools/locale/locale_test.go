package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	assert.Equal(t, "alice joined the room", Translate("room_message_join", "alice"))
	assert.Equal(t, "bob left the room", Translate("room_message_left", "bob"))
	assert.Equal(t, "alice paused at 00:01:05", Translate("room_message_pause", "alice", "00:01:05"))

	// 未登记的模板ID原样返回
	assert.Equal(t, "room_message_nope", Translate("room_message_nope", "alice"))
}

func TestHas(t *testing.T) {
	assert.True(t, Has("room_message_scrub"))
	assert.False(t, Has("room_message_nope"))
}
