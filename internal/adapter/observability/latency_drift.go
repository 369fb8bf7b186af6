package observability

import (
	"log/slog"
	"sync"
)

// LatencyDriftMonitor watches per-model inference latency against a
// baseline. Local backends slow down when the GPU is thermally
// throttled or another process steals VRAM; a sustained departure from
// the baseline is the earliest visible symptom.
type LatencyDriftMonitor struct {
	baseline   map[string]float64
	recent     map[string][]float64
	windowSize int
	threshold  float64
	mu         sync.RWMutex
}

// NewLatencyDriftMonitor creates a monitor that compares the average of
// the last windowSize samples against the baseline and flags when the
// absolute difference exceeds threshold seconds.
func NewLatencyDriftMonitor(windowSize int, threshold float64) *LatencyDriftMonitor {
	return &LatencyDriftMonitor{
		baseline:   make(map[string]float64),
		recent:     make(map[string][]float64),
		windowSize: windowSize,
		threshold:  threshold,
	}
}

// SetBaseline pins the expected latency for a model.
func (m *LatencyDriftMonitor) SetBaseline(model string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baseline[model] = seconds
	slog.Info("latency baseline updated",
		slog.String("model", model),
		slog.Float64("seconds", seconds))
}

// Record adds one latency sample and checks for drift once the window
// is full. The first full window seeds the baseline when none was set.
func (m *LatencyDriftMonitor) Record(model string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recent[model] == nil {
		m.recent[model] = make([]float64, 0, m.windowSize)
	}
	m.recent[model] = append(m.recent[model], seconds)
	if len(m.recent[model]) > m.windowSize {
		m.recent[model] = m.recent[model][1:]
	}
	if len(m.recent[model]) < m.windowSize {
		return
	}

	if _, ok := m.baseline[model]; !ok {
		m.baseline[model] = average(m.recent[model])
		slog.Info("latency baseline seeded from first window",
			slog.String("model", model),
			slog.Float64("seconds", m.baseline[model]))
		return
	}

	drift := m.driftLocked(model)
	InferenceLatencyDrift.WithLabelValues(model).Set(drift)
	if drift > m.threshold {
		slog.Warn("inference latency drift detected",
			slog.String("model", model),
			slog.Float64("drift_seconds", drift),
			slog.Float64("threshold_seconds", m.threshold),
			slog.Float64("baseline_seconds", m.baseline[model]))
	}
}

// Drift returns the current absolute drift in seconds for a model.
func (m *LatencyDriftMonitor) Drift(model string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driftLocked(model)
}

// Baseline returns the baseline latency and whether one exists.
func (m *LatencyDriftMonitor) Baseline(model string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.baseline[model]
	return s, ok
}

// RecentSamples returns a copy of the model's sample window.
func (m *LatencyDriftMonitor) RecentSamples(model string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.recent[model]))
	copy(out, m.recent[model])
	return out
}

// Reset clears all baselines and windows.
func (m *LatencyDriftMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = make(map[string]float64)
	m.recent = make(map[string][]float64)
}

func (m *LatencyDriftMonitor) driftLocked(model string) float64 {
	base, ok := m.baseline[model]
	if !ok {
		return 0
	}
	window := m.recent[model]
	if len(window) == 0 {
		return 0
	}
	drift := average(window) - base
	if drift < 0 {
		drift = -drift
	}
	return drift
}

func average(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// One inference backend per worker process, so one default monitor.
// Window of 10 samples, flagged at 15 seconds of drift.
var defaultLatencyMonitor = NewLatencyDriftMonitor(10, 15.0)

// RecordInferenceLatency feeds a successful call's latency into the
// default monitor.
func RecordInferenceLatency(model string, seconds float64) {
	defaultLatencyMonitor.Record(model, seconds)
}

// InferenceLatencyBaseline pins the default monitor's baseline.
func InferenceLatencyBaseline(model string, seconds float64) {
	defaultLatencyMonitor.SetBaseline(model, seconds)
}
