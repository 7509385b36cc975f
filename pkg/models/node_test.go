package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNode_Preview(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		limit    int
	}{
		{name: "short content", content: "hello", limit: 10, expected: "hello"},
		{name: "exact length", content: "hello", limit: 5, expected: "hello"},
		{name: "truncated", content: "hello world", limit: 5, expected: "hello..."},
		{name: "multibyte", content: "héllo wörld", limit: 4, expected: "héll..."},
		{name: "empty", content: "", limit: 3, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Node{Content: tt.content}
			assert.Equal(t, tt.expected, n.Preview(tt.limit))
		})
	}
}

func TestNode_CreatedAt(t *testing.T) {
	n := &Node{}
	assert.True(t, n.CreatedAt().IsZero())

	now := time.Now().Truncate(time.Millisecond)
	n.Timestamp = now.UnixMilli()
	assert.True(t, now.Equal(n.CreatedAt()))
}

func TestTermSet(t *testing.T) {
	s := NewTermSet("python", "api", "python")
	assert.Len(t, s, 2)
	assert.True(t, s.Has("python"))
	assert.False(t, s.Has("go"))
}

func TestClusterAssignment_Merged(t *testing.T) {
	assert.False(t, ClusterAssignment{ClusterID: "a"}.Merged())
	assert.True(t, ClusterAssignment{ClusterID: "a", MergedWith: []string{"b"}}.Merged())
}
