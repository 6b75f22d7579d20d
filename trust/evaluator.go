// Package trust implements the heuristic pre-admission filter for plugin
// submissions. Evaluation is a deterministic, pure function of the source
// artifact and metadata: code-quality, security and reputation sub-scores are
// combined into a weighted total clamped to [0,1]. External reputation
// lookups are an injected collaborator; the evaluator itself never performs
// network calls. The trust gate is not an execution sandbox.
package trust

import (
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
)

// Weights configures the contribution of each sub-score to the total.
type Weights struct {
	CodeQuality float64 `yaml:"code_quality"`
	Security    float64 `yaml:"security"`
	Reputation  float64 `yaml:"reputation"`
}

// DefaultWeights is the baseline 0.3 / 0.4 / 0.3 split. The values are
// configuration, not hard invariants.
var DefaultWeights = Weights{CodeQuality: 0.3, Security: 0.4, Reputation: 0.3}

// DefaultDenyList names constructs whose presence strongly signals arbitrary
// code execution, unchecked process invocation or unguarded deserialization.
// A match caps the security sub-score at the configured ceiling rather than
// zeroing it outright.
var DefaultDenyList = []string{
	"os/exec",
	"syscall.Exec",
	"exec.Command",
	"eval(",
	"exec(",
	"subprocess",
	"pickle.loads",
	"marshal.loads",
	"unsafe.Pointer",
	"reflect.NewAt",
	"gob.NewDecoder",
}

// ReputationSource resolves an author's historical average score. Unknown
// authors resolve to a neutral 0.5.
type ReputationSource interface {
	Lookup(author string) float64
	Record(author string, score float64)
}

// Options configures an Evaluator.
type Options struct {
	Weights Weights
	// DenyList overrides the default dangerous-construct patterns.
	DenyList []string
	// SecurityCeiling caps the security sub-score when a denied construct
	// matches. A single match is a strong but not absolute signal.
	SecurityCeiling float64
	// Reputation supplies author history; defaults to an in-memory source.
	Reputation ReputationSource
}

// Evaluator scores candidate plugin sources. Safe for concurrent use.
type Evaluator struct {
	weights         Weights
	denyList        []string
	securityCeiling float64
	reputation      ReputationSource
}

// NewEvaluator constructs an Evaluator with optional overrides.
func NewEvaluator(optFns ...func(o *Options)) *Evaluator {
	opts := Options{
		Weights:         DefaultWeights,
		DenyList:        DefaultDenyList,
		SecurityCeiling: 0.2,
		Reputation:      NewInMemoryReputation(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Evaluator{
		weights:         opts.Weights,
		denyList:        opts.DenyList,
		securityCeiling: opts.SecurityCeiling,
		reputation:      opts.Reputation,
	}
}

// Reputation returns the evaluator's reputation source.
func (e *Evaluator) Reputation() ReputationSource { return e.reputation }

// Evaluate computes a TrustScore for the descriptor's source artifact. It
// never fails on malformed input: unparseable source yields a minimal
// security sub-score and a low total.
func (e *Evaluator) Evaluate(d core.ToolDescriptor) core.TrustScore {
	quality := e.scoreCodeQuality(d.Source)
	security := e.scoreSecurity(d.Source)
	reputation := e.reputation.Lookup(d.Author)

	total := quality*e.weights.CodeQuality + security*e.weights.Security + reputation*e.weights.Reputation
	total = clamp01(total)

	now := time.Now().UTC()
	return core.TrustScore{
		PluginName:  d.Name,
		Version:     d.Version,
		Score:       total,
		CodeQuality: quality,
		Security:    security,
		Reputation:  reputation,
		VerifiedAt:  now,
		Audit: []core.AuditEvent{{
			ID:        core.NewID(),
			Action:    "verified",
			Score:     total,
			Timestamp: now,
		}},
	}
}

// scoreCodeQuality rewards documentation, declared signatures, explicit error
// handling and a reasonable size.
func (e *Evaluator) scoreCodeQuality(source string) float64 {
	if strings.TrimSpace(source) == "" {
		return 0
	}

	score := 0.0

	// Documentation markers.
	if strings.Contains(source, "//") || strings.Contains(source, `"""`) || strings.Contains(source, "'''") {
		score += 0.2
	}

	// Declared types / signatures.
	if strings.Contains(source, "func ") || strings.Contains(source, "->") || strings.Contains(source, "interface") {
		score += 0.2
	}

	// Explicit error handling.
	if strings.Contains(source, "if err != nil") || strings.Contains(source, "try:") || strings.Contains(source, "except") {
		score += 0.3
	}

	// Logging presence.
	if strings.Contains(source, "log") {
		score += 0.1
	}

	// Reasonable complexity: neither a stub nor a monolith.
	lines := strings.Count(source, "\n") + 1
	if lines >= 5 && lines <= 500 {
		score += 0.2
	}

	return clamp01(score)
}

// scoreSecurity starts from a clean 1.0 and penalizes risk signals. Any
// denied construct caps the result at the configured ceiling.
func (e *Evaluator) scoreSecurity(source string) float64 {
	if strings.TrimSpace(source) == "" {
		// Unparseable or empty source: minimal security confidence.
		return 0.1
	}

	score := 1.0
	denied := false

	for _, pattern := range e.denyList {
		if strings.Contains(source, pattern) {
			denied = true
			score -= 0.3
		}
	}

	// Hardcoded secret heuristic.
	lower := strings.ToLower(source)
	for _, marker := range []string{"password", "secret", "apikey", "api_key", "token"} {
		if strings.Contains(lower, marker) && (strings.Contains(source, `= "`) || strings.Contains(source, `= '`)) {
			score -= 0.2
			break
		}
	}

	// Unreviewed network access is a mild penalty, not a block.
	for _, marker := range []string{"net/http", "net.Dial", "requests.", "urllib."} {
		if strings.Contains(source, marker) {
			score -= 0.1
			break
		}
	}

	score = clamp01(score)
	if denied && score > e.securityCeiling {
		score = e.securityCeiling
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// InMemoryReputation keeps a running per-author average of past verification
// scores. Unknown authors resolve to a neutral 0.5.
type InMemoryReputation struct {
	mu      sync.RWMutex
	history map[string][]float64
}

// NewInMemoryReputation constructs an empty reputation source.
func NewInMemoryReputation() *InMemoryReputation {
	return &InMemoryReputation{history: make(map[string][]float64)}
}

// Lookup returns the author's historical average, or 0.5 when unknown.
func (r *InMemoryReputation) Lookup(author string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scores := r.history[author]
	if len(scores) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// Record appends a verification outcome to the author's history.
func (r *InMemoryReputation) Record(author string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[author] = append(r.history[author], score)
}
