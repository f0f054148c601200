package ladder

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBuildLong(t *testing.T) {
	plan, err := Build(Params{
		MarkPrice: d("10000"),
		TotalSize: d("3"),
		Levels:    3,
		StartBps:  10, // 0.10%
		EndBps:    30, // 0.30%
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(plan.Rungs) != 3 {
		t.Fatalf("rungs got=%d want=3", len(plan.Rungs))
	}

	// offsets: 10, 20, 30 bps -> 10, 20, 30 below mark
	wantPrices := []string{"9990", "9980", "9970"}
	for i, want := range wantPrices {
		if !plan.Rungs[i].Price.Equal(d(want)) {
			t.Errorf("rung %d price got=%s want=%s", i, plan.Rungs[i].Price, want)
		}
	}
	if !plan.TotalSize().Equal(d("3")) {
		t.Fatalf("total size got=%s want=3", plan.TotalSize())
	}
	if !plan.WAP().Equal(d("9980")) {
		t.Fatalf("WAP got=%s want=9980", plan.WAP())
	}
}

func TestBuildShortGoesUp(t *testing.T) {
	plan, err := Build(Params{
		MarkPrice: d("2000"),
		TotalSize: d("10"),
		Levels:    2,
		StartBps:  50,
		EndBps:    100,
		Short:     true,
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	// 50 bps above 2000 = 2010, 100 bps = 2020
	if !plan.Rungs[0].Price.Equal(d("2010")) || !plan.Rungs[1].Price.Equal(d("2020")) {
		t.Fatalf("short rung prices got=%s,%s want=2010,2020", plan.Rungs[0].Price, plan.Rungs[1].Price)
	}
}

func TestBuildSizeRemainderGoesToLastRung(t *testing.T) {
	plan, err := Build(Params{
		MarkPrice: d("100"),
		TotalSize: d("1"),
		Levels:    3,
		StartBps:  10,
		EndBps:    30,
		SizeStep:  d("0.1"),
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	// 1/3 floored to 0.1 step = 0.3; remainder 0.4 lands on the last rung
	if !plan.Rungs[0].Size.Equal(d("0.3")) || !plan.Rungs[1].Size.Equal(d("0.3")) {
		t.Fatalf("early rung sizes got=%s,%s want=0.3,0.3", plan.Rungs[0].Size, plan.Rungs[1].Size)
	}
	if !plan.Rungs[2].Size.Equal(d("0.4")) {
		t.Fatalf("last rung size got=%s want=0.4", plan.Rungs[2].Size)
	}
	if !plan.TotalSize().Equal(d("1")) {
		t.Fatalf("total size got=%s want=1", plan.TotalSize())
	}
}

func TestBuildPriceTickRounding(t *testing.T) {
	plan, err := Build(Params{
		MarkPrice: d("12345.6"),
		TotalSize: d("1"),
		Levels:    1,
		StartBps:  10,
		EndBps:    10,
		PriceTick: d("0.5"),
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	// 12345.6 - 12.3456 = 12333.2544 -> rounded to 0.5 tick
	want := d("12333.5")
	if !plan.Rungs[0].Price.Equal(want) {
		t.Fatalf("tick-rounded price got=%s want=%s", plan.Rungs[0].Price, want)
	}
}

func TestBuildRejectsCoarseSizeStep(t *testing.T) {
	_, err := Build(Params{
		MarkPrice: d("100"),
		TotalSize: d("0.5"),
		Levels:    3,
		StartBps:  10,
		EndBps:    30,
		SizeStep:  d("1"), // each rung floors to zero
	})
	if err == nil {
		t.Fatal("expected error for size step coarser than per-rung size")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		p    Params
	}{
		{"zero mark", Params{TotalSize: d("1"), Levels: 1}},
		{"zero size", Params{MarkPrice: d("1"), Levels: 1}},
		{"zero levels", Params{MarkPrice: d("1"), TotalSize: d("1")}},
		{"inverted bps", Params{MarkPrice: d("1"), TotalSize: d("1"), Levels: 1, StartBps: 30, EndBps: 10}},
	}
	for _, tc := range cases {
		if err := tc.p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
