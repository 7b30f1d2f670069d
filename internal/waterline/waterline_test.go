package waterline

import "testing"

func testParams() Params {
	return Params{
		LowWaterMult:      4,
		LowWaterMultBurst: 8,
		RequestMult:       1,
		RequestMultBurst:  12,
		BurstThreshold:    8,
		StaggerThreshold:  6,
	}
}

func TestIsBurst(t *testing.T) {
	p := testParams()
	if IsBurst(8, p) {
		t.Errorf("IsBurst(8) should be false — threshold is exclusive")
	}
	if !IsBurst(9, p) {
		t.Errorf("IsBurst(9) should be true")
	}
}

func TestLowWaterNormal(t *testing.T) {
	got := LowWater(2048, 3, testParams())
	want := 2048 * 4
	if got != want {
		t.Errorf("LowWater(2048, 3) = %d, want %d", got, want)
	}
}

func TestLowWaterBurst(t *testing.T) {
	got := LowWater(2048, 12, testParams())
	want := 2048 * 8
	if got != want {
		t.Errorf("LowWater(2048, 12) = %d, want %d", got, want)
	}
}

func TestCreditRequestNormal(t *testing.T) {
	got := CreditRequest(2048, 1, testParams())
	if got != 2048 {
		t.Errorf("CreditRequest(2048, 1) = %d, want 2048", got)
	}
}

func TestCreditRequestBurst(t *testing.T) {
	got := CreditRequest(2048, 10, testParams())
	want := 2048 * 12
	if got != want {
		t.Errorf("CreditRequest(2048, 10) = %d, want %d", got, want)
	}
}

func TestStaggerDelayBelowThreshold(t *testing.T) {
	p := testParams()
	for i := 0; i < 6; i++ {
		if got := StaggerDelay(i, 6, p); got != 0 {
			t.Errorf("StaggerDelay(%d, 6) = %d, want 0 (no stagger at/below threshold)", i, got)
		}
	}
}

func TestStaggerDelayAboveThreshold(t *testing.T) {
	p := testParams()
	total := 10
	for i := 0; i < total; i++ {
		if got := StaggerDelay(i, total, p); got != i {
			t.Errorf("StaggerDelay(%d, %d) = %d, want %d", i, total, got, i)
		}
	}
}

func TestParamsChangeThresholdLiveTunable(t *testing.T) {
	p := testParams()
	p.BurstThreshold = 16
	if IsBurst(9, p) {
		t.Errorf("IsBurst(9) with BurstThreshold=16 should be false")
	}
	if !IsBurst(17, p) {
		t.Errorf("IsBurst(17) with BurstThreshold=16 should be true")
	}
}
