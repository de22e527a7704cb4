package training

import (
	"math"
	"testing"
)

func TestAverageMeter(t *testing.T) {
	var m AverageMeter
	m.Update(2, 4)
	m.Update(4, 4)

	if m.Val != 4 {
		t.Errorf("Val = %v, want 4", m.Val)
	}
	if m.Count != 8 {
		t.Errorf("Count = %v, want 8", m.Count)
	}
	if m.Avg != 3 {
		t.Errorf("Avg = %v, want 3", m.Avg)
	}

	m.Reset()
	if m.Val != 0 || m.Sum != 0 || m.Count != 0 || m.Avg != 0 {
		t.Error("Reset() should zero the meter")
	}
}

func TestAverageMeterWeighted(t *testing.T) {
	var m AverageMeter
	m.Update(1, 1)
	m.Update(10, 9)
	want := (1.0 + 90.0) / 10.0
	if m.Avg != want {
		t.Errorf("Avg = %v, want %v", m.Avg, want)
	}
}

func TestCosineAnnealingLR(t *testing.T) {
	sched, err := NewCosineAnnealingLR(0.1, 100)
	if err != nil {
		t.Fatalf("NewCosineAnnealingLR() error = %v", err)
	}

	if got := sched.LearningRate(0); got != 0.1 {
		t.Errorf("LearningRate(0) = %v, want 0.1", got)
	}
	if got := sched.LearningRate(50); math.Abs(got-0.05) > 1e-9 {
		t.Errorf("LearningRate(50) = %v, want 0.05", got)
	}
	if got := sched.LearningRate(100); math.Abs(got) > 1e-9 {
		t.Errorf("LearningRate(100) = %v, want 0", got)
	}

	// Monotone decay over the run.
	prev := math.Inf(1)
	for epoch := 0; epoch <= 100; epoch += 10 {
		lr := sched.LearningRate(epoch)
		if lr > prev {
			t.Errorf("learning rate rose at epoch %d: %v > %v", epoch, lr, prev)
		}
		prev = lr
	}
}

func TestConstantLR(t *testing.T) {
	sched, err := NewConstantLR(0.01)
	if err != nil {
		t.Fatalf("NewConstantLR() error = %v", err)
	}
	if sched.LearningRate(0) != 0.01 || sched.LearningRate(99) != 0.01 {
		t.Error("constant scheduler should not change the rate")
	}
	if _, err := NewConstantLR(0); err == nil {
		t.Error("NewConstantLR() expected error for zero rate")
	}
}
