package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeChatID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"628111222333", "628111222333@c.us"},
		{"+628111222333", "628111222333@c.us"},
		{"628111222333@c.us", "628111222333@c.us"},
		{"628111222333-1600000000", "628111222333-1600000000@g.us"},
		{"120363041234567890", "120363041234567890@g.us"},
		{"120363041234567890@g.us", "120363041234567890@g.us"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ComposeChatID(tc.in), "input %q", tc.in)
	}
}

func TestDecomposeChatID(t *testing.T) {
	assert.Equal(t, "628111222333", DecomposeChatID("+628111222333@c.us"))
	assert.Equal(t, "628111222333", DecomposeChatID("628111222333"))
}

func TestIsGroupChatID(t *testing.T) {
	assert.True(t, IsGroupChatID("120363041234567890@g.us"))
	assert.True(t, IsGroupChatID("628111-1600000000"))
	assert.False(t, IsGroupChatID("628111222333"))
}
