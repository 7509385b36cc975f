package cluster

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/constellation/pkg/models"
	"github.com/thebtf/constellation/pkg/similarity"
)

// DefaultThreshold is the minimum similarity that links two nodes.
const DefaultThreshold = 0.4

// DefaultPruneMinNodes is the node count at which PruneAuto starts using the
// keyword index. Below it a full scan is cheap enough.
const DefaultPruneMinNodes = 50

var (
	// ErrNilNode is returned when inserting a nil node.
	ErrNilNode = errors.New("nil node")
	// ErrEmptyID is returned when inserting a node without an id.
	ErrEmptyID = errors.New("node id is empty")
	// ErrDuplicateNode is returned when a node id is inserted twice.
	ErrDuplicateNode = errors.New("node already inserted")
	// ErrUnsoundPruning is returned when PruneAlways is requested but the
	// scorer cannot guarantee that a pair sharing no keyword stays below
	// the threshold.
	ErrUnsoundPruning = errors.New("keyword pruning could skip a qualifying pair")
	// ErrInvalidConfig is returned for out-of-range configuration.
	ErrInvalidConfig = errors.New("invalid cluster config")
)

// PruningMode selects how candidates are chosen for each insertion.
type PruningMode string

const (
	// PruneAuto uses the keyword index once the node count reaches
	// PruneMinNodes, and only when pruning is provably sound.
	PruneAuto PruningMode = "auto"
	// PruneOff always compares against every existing node.
	PruneOff PruningMode = "off"
	// PruneAlways always uses the keyword index. Construction fails if it is unsound.
	PruneAlways PruningMode = "always"
)

// Config contains configuration for the cluster manager.
type Config struct {
	// Pruning selects candidate pruning behaviour.
	Pruning PruningMode
	// Weights configures the built-in scorer. Ignored when WithScorer is used.
	Weights similarity.Weights
	// Threshold is the inclusive minimum score that links two nodes (0.0-1.0).
	Threshold float64
	// PruneMinNodes is the node count at which PruneAuto engages.
	PruneMinNodes int
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:     DefaultThreshold,
		Weights:       similarity.DefaultWeights(),
		Pruning:       PruneAuto,
		PruneMinNodes: DefaultPruneMinNodes,
	}
}

// Validate checks ranges that do not depend on the scorer.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold %.3f outside [0,1]", ErrInvalidConfig, c.Threshold)
	}
	if c.PruneMinNodes < 0 {
		return fmt.Errorf("%w: prune min nodes %d is negative", ErrInvalidConfig, c.PruneMinNodes)
	}
	switch c.Pruning {
	case PruneAuto, PruneOff, PruneAlways:
	default:
		return fmt.Errorf("%w: unknown pruning mode %q", ErrInvalidConfig, c.Pruning)
	}
	return nil
}

// Scorer scores the similarity of two feature sets in [0, 1].
// Implementations must be symmetric.
type Scorer interface {
	Score(a, b models.FeatureSet) float64
}

// PruneBounder is implemented by scorers that can bound the score of a pair
// sharing no keyword. Only such scorers can be used with keyword pruning.
type PruneBounder interface {
	MaxWithoutSharedKeyword() float64
}

// Listener receives every assignment after the insertion is committed.
// Listeners run synchronously on the inserting goroutine, outside the
// manager lock, one insertion at a time and in commit order. A listener
// must not insert into the manager that notifies it.
type Listener interface {
	OnAssignment(assignment models.ClusterAssignment, snapshot *Snapshot)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(assignment models.ClusterAssignment, snapshot *Snapshot)

// OnAssignment calls f.
func (f ListenerFunc) OnAssignment(assignment models.ClusterAssignment, snapshot *Snapshot) {
	f(assignment, snapshot)
}

// Option configures a Manager.
type Option func(*Manager)

// WithScorer replaces the built-in weighted scorer.
func WithScorer(s Scorer) Option {
	return func(m *Manager) {
		m.scorer = s
	}
}

// WithListener registers a listener for assignments.
func WithListener(l Listener) Option {
	return func(m *Manager) {
		m.listeners = append(m.listeners, l)
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) {
		m.meterProvider = mp
	}
}

type storedNode struct {
	node     *models.Node
	features models.FeatureSet
}

// Manager assigns nodes to clusters as they arrive.
//
// Clustering is single linkage: a new node is linked to every existing node
// scoring at or above the threshold, so one node can bridge two clusters that
// are otherwise dissimilar and long chains can form.
//
// All mutation is serialized by an internal mutex. Snapshot is lock-free.
type Manager struct {
	scorer        Scorer
	meterProvider metric.MeterProvider
	index         *Index
	keywords      *keywordIndex
	byID          map[string]int
	metrics       *instruments
	snapshot      atomic.Pointer[Snapshot]
	log           zerolog.Logger
	nodes         []storedNode
	listeners     []Listener
	cfg           Config
	version       uint64
	mu            sync.Mutex
	deliverMu     sync.Mutex
	pruneSound    bool
}

// NewManager creates a cluster manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		index:    NewIndex(),
		keywords: newKeywordIndex(),
		byID:     make(map[string]int),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.scorer == nil {
		if err := cfg.Weights.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		m.scorer = similarity.NewScorer(cfg.Weights)
	}

	m.pruneSound = pruningSound(m.scorer, cfg.Threshold)
	if !m.pruneSound {
		switch cfg.Pruning {
		case PruneAlways:
			return nil, fmt.Errorf("%w: threshold %.3f", ErrUnsoundPruning, cfg.Threshold)
		case PruneAuto:
			m.log.Warn().
				Float64("threshold", cfg.Threshold).
				Msg("Keyword pruning is unsound for this scorer and threshold, using full scan")
		}
	}

	metrics, err := newInstruments(m.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	m.metrics = metrics

	m.snapshot.Store(newSnapshot(0, nil))
	return m, nil
}

// pruningSound reports whether skipping pairs that share no keyword can never
// skip a pair at or above threshold.
func pruningSound(s Scorer, threshold float64) bool {
	b, ok := s.(PruneBounder)
	if !ok {
		return false
	}
	return b.MaxWithoutSharedKeyword() < threshold
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Insert clusters a new node.
//
// The node is scored against every candidate; each candidate at or above the
// threshold is unioned with it. A node with no qualifying candidate stays a
// singleton. Degenerate content is not an error; it just scores low.
func (m *Manager) Insert(node *models.Node) (models.ClusterAssignment, error) {
	if node == nil {
		return models.ClusterAssignment{}, ErrNilNode
	}
	if node.ID == "" {
		return models.ClusterAssignment{}, ErrEmptyID
	}

	stored := storedNode{
		node:     cloneNode(node),
		features: similarity.ExtractFeatures(node),
	}

	m.mu.Lock()
	assignment, snap, err := m.insertLocked(stored)
	if err != nil {
		m.mu.Unlock()
		return models.ClusterAssignment{}, err
	}
	// deliverMu is taken before mu is released, so listeners see
	// insertions in commit order.
	m.deliverMu.Lock()
	m.mu.Unlock()

	for _, l := range m.listeners {
		l.OnAssignment(assignment, snap)
	}
	m.deliverMu.Unlock()
	return assignment, nil
}

// InsertBatch inserts nodes in order, stopping at the first error.
// Returns the assignments made before the error.
func (m *Manager) InsertBatch(nodes []*models.Node) ([]models.ClusterAssignment, error) {
	assignments := make([]models.ClusterAssignment, 0, len(nodes))
	for i, node := range nodes {
		a, err := m.Insert(node)
		if err != nil {
			return assignments, fmt.Errorf("insert node %d: %w", i, err)
		}
		assignments = append(assignments, a)
	}

	m.log.Info().
		Int("nodes", len(nodes)).
		Int("clusters", m.Snapshot().ClusterCount()).
		Msg("Batch insertion complete")

	return assignments, nil
}

func (m *Manager) insertLocked(s storedNode) (models.ClusterAssignment, *Snapshot, error) {
	id := s.node.ID
	if m.index.Contains(id) {
		return models.ClusterAssignment{}, nil, fmt.Errorf("%w: %q", ErrDuplicateNode, id)
	}

	candidates, pruning := m.candidates(s.features)
	skipped := len(m.nodes) - len(candidates)

	var matches []models.Match
	var priorRoots []string
	seenRoots := make(map[string]bool)

	for _, seq := range candidates {
		other := m.nodes[seq]
		score := m.scorer.Score(s.features, other.features)
		if score < m.cfg.Threshold {
			continue
		}
		matches = append(matches, models.Match{NodeID: other.node.ID, Score: score})

		// Roots are read before any union of this insertion, so they name
		// the clusters as they were before the node arrived.
		root := m.index.find(other.node.ID)
		if !seenRoots[root] {
			seenRoots[root] = true
			priorRoots = append(priorRoots, root)
		}
	}

	seq := len(m.nodes)
	m.nodes = append(m.nodes, s)
	m.byID[id] = seq
	m.index.Add(id)
	m.keywords.Add(seq, s.features.Keywords)

	for _, match := range matches {
		if _, _, err := m.index.Union(id, match.NodeID); err != nil {
			// Both ids were just checked; reaching this is an index bug.
			m.log.Error().Err(err).Str("node", id).Msg("Union failed")
			return models.ClusterAssignment{}, nil, err
		}
	}

	root := m.index.find(id)
	assignment := models.ClusterAssignment{
		NodeID:    id,
		ClusterID: root,
		Matches:   matches,
	}
	if len(priorRoots) > 1 {
		for _, r := range priorRoots {
			if r != root {
				assignment.MergedWith = append(assignment.MergedWith, r)
			}
		}
	}

	m.version++
	snap := m.snapshot.Load().with(m.version, id, root, priorRoots)
	m.snapshot.Store(snap)

	size := m.index.entries[root].size
	m.metrics.recordInsert(len(candidates), skipped, assignment.Merged(), size, pruning)

	m.log.Debug().
		Str("node", id).
		Str("cluster", root).
		Int("compared", len(candidates)).
		Int("skipped", skipped).
		Int("matches", len(matches)).
		Msg("Node inserted")

	if assignment.Merged() {
		m.log.Info().
			Str("node", id).
			Str("cluster", root).
			Strs("merged_with", assignment.MergedWith).
			Int("size", size).
			Msg("Clusters merged")
	}

	return assignment, snap, nil
}

// candidates returns the insertion sequence numbers to score against, and
// whether keyword pruning was used.
func (m *Manager) candidates(features models.FeatureSet) ([]int, bool) {
	if m.usePruning() {
		return m.keywords.Candidates(features.Keywords), true
	}

	all := make([]int, len(m.nodes))
	for i := range all {
		all[i] = i
	}
	return all, false
}

func (m *Manager) usePruning() bool {
	if !m.pruneSound {
		return false
	}
	switch m.cfg.Pruning {
	case PruneAlways:
		return true
	case PruneAuto:
		return len(m.nodes) >= m.cfg.PruneMinNodes
	default:
		return false
	}
}

// PruningActive reports whether the next insertion would use keyword pruning.
func (m *Manager) PruningActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usePruning()
}

// Snapshot returns the partition as of the latest insertion.
func (m *Manager) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// FindRoot returns the cluster id of a node.
func (m *Manager) FindRoot(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, err := m.index.FindRoot(id)
	if err != nil {
		m.logNotFound(id, err)
		return "", err
	}
	return root, nil
}

// Members returns the ids sharing a node's cluster, sorted ascending.
func (m *Manager) Members(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, err := m.index.Members(id)
	if err != nil {
		m.logNotFound(id, err)
		return nil, err
	}
	return members, nil
}

// AllClusters returns the current partition, ordered by smallest member id.
func (m *Manager) AllClusters() []models.Cluster {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.AllClusters()
}

// Similarity scores two inserted nodes.
func (m *Manager) Similarity(a, b string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.byID[a]
	if !ok {
		err := fmt.Errorf("similarity %q: %w", a, ErrNodeNotFound)
		m.logNotFound(a, err)
		return 0, err
	}
	sb, ok := m.byID[b]
	if !ok {
		err := fmt.Errorf("similarity %q: %w", b, ErrNodeNotFound)
		m.logNotFound(b, err)
		return 0, err
	}
	return m.scorer.Score(m.nodes[sa].features, m.nodes[sb].features), nil
}

// Node returns a copy of an inserted node.
func (m *Manager) Node(id string) (*models.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return cloneNode(m.nodes[seq].node), true
}

// Nodes returns copies of all nodes in insertion order.
func (m *Manager) Nodes() []*models.Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Node, len(m.nodes))
	for i, s := range m.nodes {
		out[i] = cloneNode(s.node)
	}
	return out
}

// Len returns the number of inserted nodes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// Scorer returns the scorer in use.
func (m *Manager) Scorer() Scorer {
	return m.scorer
}

// logNotFound reports a lookup for an id the host never inserted. This is a
// programming error in the host, so it is logged at error level.
func (m *Manager) logNotFound(id string, err error) {
	m.log.Error().Err(err).Str("node", id).Msg("Lookup for unknown node")
}

func cloneNode(n *models.Node) *models.Node {
	c := *n
	c.Keywords = append([]string(nil), n.Keywords...)
	return &c
}
