package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/internal/graph"
	"github.com/thebtf/constellation/internal/privacy"
	"github.com/thebtf/constellation/pkg/models"
	"github.com/thebtf/constellation/pkg/similarity"
)

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Nodes    int    `json:"nodes"`
	Clusters int    `json:"clusters"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Uptime:   time.Since(s.startTime).Truncate(time.Second).String(),
		Nodes:    snap.NodeCount(),
		Clusters: snap.ClusterCount(),
	})
}

// ClustersResponse is returned by /api/clusters.
type ClustersResponse struct {
	Clusters []models.Cluster `json:"clusters"`
	Version  uint64           `json:"version"`
}

func (s *Server) handleGetClusters(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	writeJSON(w, http.StatusOK, ClustersResponse{
		Version:  snap.Version(),
		Clusters: snap.Clusters(),
	})
}

// NodeClusterResponse is returned by /api/nodes/{id}/cluster.
type NodeClusterResponse struct {
	NodeID    string   `json:"node_id"`
	ClusterID string   `json:"cluster_id"`
	Members   []string `json:"members"`
	Version   uint64   `json:"version"`
}

func (s *Server) handleGetNodeCluster(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap := s.manager.Snapshot()
	root, ok := snap.RootOf(id)
	if !ok {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	members, _ := snap.Members(id)

	writeJSON(w, http.StatusOK, NodeClusterResponse{
		NodeID:    id,
		ClusterID: root,
		Members:   members,
		Version:   snap.Version(),
	})
}

// SimilarityResponse is returned by /api/similarity.
type SimilarityResponse struct {
	A            string                   `json:"a"`
	B            string                   `json:"b"`
	Signals      []similarity.SignalScore `json:"signals,omitempty"`
	Score        float64                  `json:"score"`
	Threshold    float64                  `json:"threshold"`
	WouldCluster bool                     `json:"would_cluster"`
	SameCluster  bool                     `json:"same_cluster"`
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	a := r.URL.Query().Get("a")
	b := r.URL.Query().Get("b")
	if a == "" || b == "" {
		http.Error(w, "a and b are required", http.StatusBadRequest)
		return
	}

	nodeA, okA := s.manager.Node(a)
	nodeB, okB := s.manager.Node(b)
	if !okA || !okB {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}

	score, err := s.manager.Similarity(a, b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	threshold := s.manager.Config().Threshold
	resp := SimilarityResponse{
		A:            a,
		B:            b,
		Score:        score,
		Threshold:    threshold,
		WouldCluster: score >= threshold,
		SameCluster:  s.manager.Snapshot().SameCluster(a, b),
	}
	if comps, ok := graph.Explain(s.manager.Scorer(), nodeA, nodeB); ok {
		resp.Signals = comps.Signals
	}

	writeJSON(w, http.StatusOK, resp)
}

// EdgesResponse is returned by /api/edges.
type EdgesResponse struct {
	Edges     []graph.Edge `json:"edges"`
	MinScore  float64      `json:"min_score"`
	NodeCount int          `json:"node_count"`
}

// handleGetEdges returns every node pair scoring at least min_score
// (default: the clustering threshold), for renderers that draw links.
func (s *Server) handleGetEdges(w http.ResponseWriter, r *http.Request) {
	minScore := s.manager.Config().Threshold
	if v := r.URL.Query().Get("min_score"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			http.Error(w, "min_score must be a number in [0,1]", http.StatusBadRequest)
			return
		}
		minScore = parsed
	}

	nodes := s.manager.Nodes()
	edges, err := graph.DetectEdges(r.Context(), nodes, s.manager.Scorer(), minScore)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if edges == nil {
		edges = []graph.Edge{}
	}

	writeJSON(w, http.StatusOK, EdgesResponse{
		Edges:     edges,
		MinScore:  minScore,
		NodeCount: len(nodes),
	})
}

// InsertResponse is returned by POST /api/nodes.
type InsertResponse struct {
	Assignments []models.ClusterAssignment `json:"assignments"`
	Version     uint64                     `json:"version"`
}

// handleInsertNodes inserts one node object or an array of them. Nodes
// without an id get a random UUID; credentials are redacted before insert.
func (s *Server) handleInsertNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := decodeNodes(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, n := range nodes {
		if n == nil {
			continue
		}
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if s.redact && privacy.RedactNode(n) {
			log.Info().Str("id", n.ID).Msg("Redacted credentials from inserted node")
		}
	}

	assignments, err := s.manager.InsertBatch(nodes)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, cluster.ErrDuplicateNode):
			status = http.StatusConflict
		case errors.Is(err, cluster.ErrNilNode), errors.Is(err, cluster.ErrEmptyID):
			status = http.StatusBadRequest
		}
		// Earlier nodes of the batch stay inserted; report them with the error.
		log.Warn().Err(err).Int("inserted", len(assignments)).Msg("Node insertion failed")
		writeJSON(w, status, map[string]any{
			"error":       err.Error(),
			"assignments": assignments,
		})
		return
	}

	writeJSON(w, http.StatusCreated, InsertResponse{
		Assignments: assignments,
		Version:     s.manager.Snapshot().Version(),
	})
}

var errEmptyBody = errors.New("request body is empty")

func decodeNodes(body io.Reader) ([]*models.Node, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errEmptyBody
	}

	if data[0] == '[' {
		var nodes []*models.Node
		if err := json.Unmarshal(data, &nodes); err != nil {
			return nil, err
		}
		return nodes, nil
	}

	var node models.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return []*models.Node{&node}, nil
}
