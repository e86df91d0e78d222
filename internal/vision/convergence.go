package vision

// Default convergence parameters.
const (
	DefaultConvergenceWindow    = 5
	DefaultConvergenceThreshold = 0.001
)

// ConvergenceDetector reports when the last Window overall scores span less
// than Threshold. It is owned by a single run and is not safe for concurrent use.
type ConvergenceDetector struct {
	window    int
	threshold float64
	history   []float64
}

// NewConvergenceDetector returns a detector. Non-positive arguments select the defaults.
func NewConvergenceDetector(window int, threshold float64) *ConvergenceDetector {
	if window < 1 {
		window = DefaultConvergenceWindow
	}
	if threshold <= 0 {
		threshold = DefaultConvergenceThreshold
	}
	return &ConvergenceDetector{window: window, threshold: threshold}
}

// Add records score and reports whether the run has converged.
func (d *ConvergenceDetector) Add(score float64) bool {
	d.history = append(d.history, score)
	if len(d.history) > d.window {
		d.history = d.history[len(d.history)-d.window:]
	}
	if len(d.history) < d.window {
		return false
	}
	lo, hi := d.history[0], d.history[0]
	for _, v := range d.history[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return hi-lo < d.threshold
}

// Reset forgets all recorded scores.
func (d *ConvergenceDetector) Reset() {
	d.history = nil
}

// History returns a copy of the retained scores, oldest first.
func (d *ConvergenceDetector) History() []float64 {
	return append([]float64(nil), d.history...)
}

// Window is the number of scores considered.
func (d *ConvergenceDetector) Window() int { return d.window }
