// Package training orchestrates self-supervised pretraining epochs:
// task variants, learning-rate schedules, meters, and the outer run loop.
package training

// AverageMeter tracks a running average of a scalar, weighted by sample
// count.
type AverageMeter struct {
	Val   float64
	Sum   float64
	Count int
	Avg   float64
}

// Reset clears the meter for a new epoch.
func (m *AverageMeter) Reset() {
	m.Val = 0
	m.Sum = 0
	m.Count = 0
	m.Avg = 0
}

// Update records a value observed over n samples.
func (m *AverageMeter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
	if m.Count > 0 {
		m.Avg = m.Sum / float64(m.Count)
	}
}
