// Package classifier implements C6: a capability mapping a feature
// vector to a scalar in [0,1], where a value below 0.5 means "poor
// memory state" and stimulation is warranted (spec.md §4.6). The
// concrete variant here is logistic regression over weights loaded from
// config; only the domain.Classifier contract is normative elsewhere in
// the pipeline.
package classifier

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// LogisticRegression is a domain.Classifier backed by a fixed weight
// vector and bias, following the standard sigmoid(w.x + b) form.
type LogisticRegression struct {
	log     *logger.Logger
	weights []float64
	bias    float64

	mu        sync.Mutex
	callbacks map[string]domain.ClassifierSubscriber
}

// NewLogisticRegression creates a classifier over the given weights and
// bias. len(weights) must equal the feature vector length passed to
// Classify.
func NewLogisticRegression(log *logger.Logger, weights []float64, bias float64) *LogisticRegression {
	return &LogisticRegression{
		log:       log,
		weights:   append([]float64(nil), weights...),
		bias:      bias,
		callbacks: make(map[string]domain.ClassifierSubscriber),
	}
}

// Classify implements domain.Classifier.
func (c *LogisticRegression) Classify(features []float64) (float64, error) {
	if len(features) != len(c.weights) {
		return 0, domain.NewBoundsError("classifier", "feature vector length does not match weight vector length")
	}

	w := mat.NewVecDense(len(c.weights), c.weights)
	x := mat.NewVecDense(len(features), features)
	z := mat.Dot(w, x) + c.bias
	score := 1 / (1 + math.Exp(-z))
	return score, nil
}

// RegisterCallback registers a downstream subscriber to the scalar
// decision, keyed by tag. Registering an existing tag replaces it
// (idempotent on tag, matching C2's register_callback/remove_callback
// idiom).
func (c *LogisticRegression) RegisterCallback(tag string, fn domain.ClassifierSubscriber) error {
	if fn == nil {
		return domain.ErrNoCallback
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[tag] = fn
	return nil
}

// RemoveCallback removes a previously registered subscriber. Idempotent.
func (c *LogisticRegression) RemoveCallback(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, tag)
}

// Notify invokes every registered subscriber with the classification
// result. Called by C7 once Classify has produced a score, for any of
// the STIM/SHAM/NOSTIM trigger types.
func (c *LogisticRegression) Notify(settings domain.TaskClassifierSettings, score float64) {
	c.mu.Lock()
	cbs := make([]domain.ClassifierSubscriber, 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		cbs = append(cbs, fn)
	}
	c.mu.Unlock()

	for _, fn := range cbs {
		fn(settings, score)
	}
}
