package bus

import (
	"errors"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(queued ...Reply) *Client {
	logger := log.New()
	logger.SetOutput(io.Discard)

	c := &Client{
		replyChan:    make(chan Reply, 1),
		replyTimeout: 50 * time.Millisecond,
		sendTimeout:  10 * time.Millisecond,
		logger:       logger,
	}
	for _, r := range queued {
		c.replyChan <- r
	}
	return c
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    Reply
		expectError bool
	}{
		{
			name:  "Valid ACK without value",
			input: "_ACK_S;",
			expected: Reply{
				Code:  'S',
				Error: false,
			},
			expectError: false,
		},
		{
			name:  "Valid ACK with value",
			input: "_ACK_M=1.25e-06;",
			expected: Reply{
				Code:  'M',
				Value: "1.25e-06",
				Error: false,
			},
			expectError: false,
		},
		{
			name:  "Valid NACK without value",
			input: "_NACK_G;",
			expected: Reply{
				Code:  'G',
				Error: true,
			},
			expectError: false,
		},
		{
			name:        "Too few underscores",
			input:       "ACK_C;",
			expectError: true,
		},
		{
			name:        "Invalid ack indicator",
			input:       "_NOTACK_V;",
			expectError: true,
		},
		{
			name:        "Invalid extra equals",
			input:       "_ACK_P=123=456;",
			expectError: true,
		},
		{
			name:        "No semicolon",
			input:       "_ACK_P=123",
			expectError: true,
		},
		{
			name:        "Command with more than one character",
			input:       "_ACK_CMD=123;",
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := parseReply(tc.input)
			if tc.expectError {
				assert.Error(t, err, "expected error for input: %s", tc.input)
				assert.True(t, errors.Is(err, ErrBadReply))
			} else {
				assert.NoError(t, err, "unexpected error for input: %s", tc.input)
				assert.Equal(t, tc.expected.Code, reply.Code)
				assert.Equal(t, tc.expected.Value, reply.Value)
				assert.Equal(t, tc.expected.Error, reply.Error)
			}
		})
	}
}

func TestAwaitReply(t *testing.T) {
	c := testClient(Reply{Code: 'G', Value: "150"})

	reply, err := c.awaitReply('G')
	require.NoError(t, err)
	assert.Equal(t, "150", reply.Value)
}

func TestAwaitReplyNACK(t *testing.T) {
	c := testClient(Reply{Code: 'G', Error: true})

	_, err := c.awaitReply('G')
	assert.ErrorContains(t, err, "command failed")
}

func TestAwaitReplyCodeMismatch(t *testing.T) {
	c := testClient(Reply{Code: 'X'})

	_, err := c.awaitReply('G')
	assert.ErrorContains(t, err, "unexpected reply command")
}

func TestAwaitReplyTimeout(t *testing.T) {
	c := testClient()

	_, err := c.awaitReply('G')
	assert.ErrorContains(t, err, "timeout")
}

func TestPushReply(t *testing.T) {
	c := testClient()

	c.pushReply("_ACK_M=1.5;")

	select {
	case reply := <-c.replyChan:
		assert.Equal(t, byte('M'), reply.Code)
		assert.Equal(t, "1.5", reply.Value)
	default:
		t.Fatal("expected a queued reply")
	}
}

func TestPushReplyDropsWhenChannelFull(t *testing.T) {
	c := testClient(Reply{Code: 'A'})

	// The stale reply stays, the new one is dropped after the send timeout
	c.pushReply("_ACK_B;")

	reply := <-c.replyChan
	assert.Equal(t, byte('A'), reply.Code)
	assert.Empty(t, c.replyChan)
}

func TestPushReplyIgnoresGarbage(t *testing.T) {
	c := testClient()

	c.pushReply("not a reply")
	assert.Empty(t, c.replyChan)
}
