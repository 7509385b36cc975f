package events

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/pkg/models"
)

// subscribe opens an SSE stream and returns a function reading the next event.
func subscribe(t *testing.T, ctx context.Context, url string) func() Event {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	return func() Event {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			return ev
		}
	}
}

func TestBroadcaster_StreamsAssignments(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	next := subscribe(t, ctx, srv.URL)

	hello := next()
	assert.Equal(t, TypeConnected, hello.Type)
	assert.Equal(t, "client-1", hello.ClientID)
	assert.Equal(t, 1, b.ClientCount())

	m, err := cluster.NewManager(cluster.DefaultConfig(), cluster.WithListener(b))
	require.NoError(t, err)

	_, err = m.Insert(&models.Node{ID: "a", Keywords: []string{"python", "api"}})
	require.NoError(t, err)
	_, err = m.Insert(&models.Node{ID: "c", Keywords: []string{"rust", "cli"}})
	require.NoError(t, err)
	_, err = m.Insert(&models.Node{ID: "b", Keywords: []string{"python", "api", "rust", "cli"}})
	require.NoError(t, err)

	first := next()
	assert.Equal(t, TypeAssignment, first.Type)
	require.NotNil(t, first.Assignment)
	assert.Equal(t, "a", first.Assignment.NodeID)
	assert.Equal(t, uint64(1), first.Version)

	second := next()
	assert.Equal(t, "c", second.Assignment.NodeID)

	merge := next()
	assert.Equal(t, TypeMerge, merge.Type)
	assert.Equal(t, "b", merge.Assignment.NodeID)
	assert.Equal(t, "a", merge.Assignment.ClusterID)
	assert.Equal(t, []string{"c"}, merge.Assignment.MergedWith)
	assert.Equal(t, uint64(3), merge.Version)
	assert.Equal(t, 1, merge.Clusters)

	cancel()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_DropsSlowClients(t *testing.T) {
	b := NewBroadcaster()
	b.buffer = 1
	c := b.addClient()

	b.Broadcast(Event{Type: TypeAssignment})
	assert.Equal(t, 1, b.ClientCount())

	b.Broadcast(Event{Type: TypeAssignment})
	assert.Equal(t, 0, b.ClientCount())

	_, ok := <-c.send
	assert.True(t, ok, "buffered event is still readable")
	_, ok = <-c.send
	assert.False(t, ok, "channel closed after drop")

	b.removeClient(c.id)
}

func TestBroadcaster_NoClients(t *testing.T) {
	b := NewBroadcaster()
	assert.NotPanics(t, func() {
		b.OnAssignment(models.ClusterAssignment{NodeID: "x", ClusterID: "x"}, nil)
	})
}
