package fixedpoint

import "testing"

func TestFromToRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 42, 1_000_000, 99999} {
		for _, d := range []uint8{0, 2, 4, 8, 10} {
			fp, err := FromU64(v, d)
			if err != nil {
				t.Fatalf("FromU64(%d,%d): %v", v, d, err)
			}
			got, err := ToU64(fp, d, Trunc)
			if err != nil {
				t.Fatalf("ToU64(%d,%d): %v", v, d, err)
			}
			if got != v {
				t.Errorf("round trip FromU64/ToU64(%d,%d) = %d, want %d", v, d, got, v)
			}
		}
	}
}

func TestFromU64RejectsExcessDecimals(t *testing.T) {
	if _, err := FromU64(1, 11); err != ErrDecimalsOutOfRange {
		t.Fatalf("expected ErrDecimalsOutOfRange, got %v", err)
	}
}

func TestToU64Modes(t *testing.T) {
	// 0.0000000015 at full precision, asking for 8 decimals truncates.
	fp := FromRaw(15) // 1.5e-9 in 1e-10 units -> 0.0000000015
	got, err := ToU64(fp, 8, Trunc)
	if err != nil || got != 0 {
		t.Fatalf("Trunc: got %d, %v", got, err)
	}
	got, err = ToU64(fp, 8, RoundUp)
	if err != nil || got != 1 {
		t.Fatalf("RoundUp: got %d, %v", got, err)
	}
	if _, err := ToU64(fp, 8, ErrorOnLoss); err != ErrPrecisionLoss {
		t.Fatalf("ErrorOnLoss: expected ErrPrecisionLoss, got %v", err)
	}
}

func TestMulDivPrecisionLoss(t *testing.T) {
	// A sub-tick trade: 0.00015 * 0.0001 = 0.000000015, which rounds up
	// to 2 raw units at 8 decimal places.
	mid, _ := FromU64(15, 5)  // 0.00015
	qty, _ := FromU64(1, 4)   // 0.0001
	prod, err := Mul(mid, qty, RoundUp)
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	raw, err := ToU64(prod, 8, RoundUp)
	if err != nil {
		t.Fatalf("ToU64: %v", err)
	}
	if raw != 2 {
		t.Errorf("expected 2 raw quote units, got %d", raw)
	}
}

func TestDivByZero(t *testing.T) {
	if _, err := Div(One, Zero, Trunc); err != ErrDivideByZero {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
}

func TestSubUnderflow(t *testing.T) {
	if _, err := Sub(Zero, One); err != ErrUnderflow {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
}

func TestRoundToDecimals(t *testing.T) {
	// (10+9)/2 = 9.5 already exact at 4 decimals.
	ten, _ := FromU64(10, 0)
	nine, _ := FromU64(9, 0)
	sum, _ := Add(ten, nine)
	half, _ := Div(sum, FromRaw(2*Scale), Trunc)
	rounded, err := RoundToDecimals(half, 4, RoundUp)
	if err != nil {
		t.Fatalf("RoundToDecimals: %v", err)
	}
	want, _ := FromU64(95000, 4)
	if !Eq(rounded, want) {
		t.Errorf("RoundToDecimals = %v, want %v", rounded, want)
	}
}

func TestOverflowDetection(t *testing.T) {
	// 2^64 / 10^10 is about 1.8e9, so 2e9 at 0 decimals cannot rescale.
	if _, err := FromU64(2_000_000_000, 0); err != ErrOverflow {
		t.Errorf("FromU64 overflow: got %v", err)
	}

	big := FromRaw(^uint64(0))
	if _, err := Add(big, One); err != ErrOverflow {
		t.Errorf("Add overflow: got %v", err)
	}
	// big * big overflows even the rescaled 128-bit intermediate.
	if _, err := Mul(big, big, Trunc); err != ErrOverflow {
		t.Errorf("Mul overflow: got %v", err)
	}
	if _, err := Div(big, FromRaw(1), Trunc); err != ErrOverflow {
		t.Errorf("Div overflow: got %v", err)
	}
}

func TestMulExactNeedsNoMode(t *testing.T) {
	// 2.5 * 4 = 10 exactly; every mode agrees, including ErrorOnLoss.
	a, _ := FromU64(25, 1)
	b, _ := FromU64(4, 0)
	want, _ := FromU64(10, 0)
	for _, mode := range []Mode{Trunc, RoundUp, ErrorOnLoss} {
		got, err := Mul(a, b, mode)
		if err != nil || !Eq(got, want) {
			t.Errorf("Mul(2.5, 4, mode %d) = %v, %v", mode, got, err)
		}
	}
}

func TestDivModes(t *testing.T) {
	// 1 / 3 is inexact at any fixed precision.
	three, _ := FromU64(3, 0)
	trunc, err := Div(One, three, Trunc)
	if err != nil {
		t.Fatalf("Div trunc: %v", err)
	}
	up, err := Div(One, three, RoundUp)
	if err != nil {
		t.Fatalf("Div roundup: %v", err)
	}
	if up.Raw() != trunc.Raw()+1 {
		t.Errorf("RoundUp should be exactly one ulp above Trunc: %d vs %d", up.Raw(), trunc.Raw())
	}
	if _, err := Div(One, three, ErrorOnLoss); err != ErrPrecisionLoss {
		t.Errorf("Div ErrorOnLoss: got %v", err)
	}
}

func TestMinMaxCompare(t *testing.T) {
	a, _ := FromU64(5, 0)
	b, _ := FromU64(7, 0)
	if !Eq(Min(a, b), a) || !Eq(Max(a, b), b) {
		t.Fatalf("min/max mismatch")
	}
	if !Lt(a, b) || !Lte(a, b) || !Gt(b, a) || !Gte(b, a) {
		t.Fatalf("comparison mismatch")
	}
}
