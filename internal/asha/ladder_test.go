package asha

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/me/gotune/pkg/model"
)

func TestMilestones(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		s    int
		want []int
	}{
		{"default", DefaultConfig(), 0, []int{1, 4, 16, 64, 100}},
		{"second bracket", DefaultConfig(), 1, []int{4, 16, 64, 100}},
		{"exact max", Config{ReductionFactor: 3, MinResource: 1, MaxResource: 27}, 0, []int{1, 3, 9, 27}},
		{"single rung", Config{ReductionFactor: 2, MinResource: 5, MaxResource: 5}, 0, []int{5}},
		{"explicit", Config{ReductionFactor: 4, Rungs: []int{1, 4, 16}}, 0, []int{1, 4, 16}},
		{"explicit offset", Config{ReductionFactor: 4, Rungs: []int{1, 4, 16}}, 2, []int{16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Milestones(tt.cfg, tt.s); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Milestones() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"rf too small", func(c *Config) { c.ReductionFactor = 1.5 }, true},
		{"bad mode", func(c *Config) { c.Mode = "avg" }, true},
		{"no brackets", func(c *Config) { c.Brackets = 0 }, true},
		{"too many brackets", func(c *Config) { c.Brackets = 9 }, true},
		{"min resource zero", func(c *Config) { c.MinResource = 0 }, true},
		{"max below min", func(c *Config) { c.MinResource = 10; c.MaxResource = 5 }, true},
		{"rungs not increasing", func(c *Config) { c.Rungs = []int{1, 4, 4} }, true},
		{"rung not positive", func(c *Config) { c.Rungs = []int{0, 4} }, true},
		{"explicit rungs", func(c *Config) { c.Rungs = []int{2, 8}; c.Brackets = 2 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuotas(t *testing.T) {
	c := DefaultConfig()
	c.Brackets = 3

	q := Quotas(c, 100)
	if len(q) != 3 {
		t.Fatalf("len(Quotas) = %d, want 3", len(q))
	}
	if sum := q[0] + q[1] + q[2]; sum != 100 {
		t.Errorf("sum = %d, want 100", sum)
	}
	if q[0] <= q[1] || q[1] <= q[2] {
		t.Errorf("quotas = %v, want strictly decreasing", q)
	}

	for s, n := range Quotas(c, 3) {
		if n < 1 {
			t.Errorf("bracket %d quota = %d, want >= 1", s, n)
		}
	}
}

func TestNewBrackets(t *testing.T) {
	c := DefaultConfig()
	c.Brackets = 2
	c.Mode = model.ModeMin

	bs, err := NewBrackets(c, 20)
	if err != nil {
		t.Fatalf("NewBrackets: %v", err)
	}
	if len(bs) != 2 {
		t.Fatalf("len = %d, want 2", len(bs))
	}
	if got := bs[0].Milestones(); !reflect.DeepEqual(got, []int{1, 4, 16, 64, 100}) {
		t.Errorf("bracket 0 milestones = %v", got)
	}
	if got := bs[1].Milestones(); !reflect.DeepEqual(got, []int{4, 16, 64, 100}) {
		t.Errorf("bracket 1 milestones = %v", got)
	}
	if !bs[0].SmallerIsBetter {
		t.Error("min mode should rank smaller metrics first")
	}
	if got := bs[0].Quota + bs[1].Quota; got != 20 {
		t.Errorf("total quota = %d, want 20", got)
	}

	if _, err := NewBrackets(c, 0); err == nil {
		t.Error("expected error for zero samples")
	}
}

func TestAssign_Deterministic(t *testing.T) {
	c := DefaultConfig()
	c.Brackets = 3
	mk := func() []*Bracket {
		bs, err := NewBrackets(c, 60)
		if err != nil {
			t.Fatal(err)
		}
		return bs
	}
	a, b := mk(), mk()
	for i := 0; i < 60; i++ {
		ba, err := Assign(7, i, a)
		if err != nil {
			t.Fatalf("Assign(%d): %v", i, err)
		}
		bb, err := Assign(7, i, b)
		if err != nil {
			t.Fatalf("Assign(%d): %v", i, err)
		}
		if ba.ID != bb.ID {
			t.Errorf("index %d: bracket %d vs %d", i, ba.ID, bb.ID)
		}
		id := fmt.Sprintf("t%d", i)
		if err := ba.Add(id); err != nil {
			t.Fatal(err)
		}
		if err := bb.Add(id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Assign(7, 60, a); !errors.Is(err, ErrNoCapacity) {
		t.Errorf("Assign past quota error = %v, want ErrNoCapacity", err)
	}
}

func TestAssign_SkipsFullBrackets(t *testing.T) {
	c := DefaultConfig()
	c.Brackets = 2
	bs, err := NewBrackets(c, 10)
	if err != nil {
		t.Fatal(err)
	}
	bs[0].Seal()
	for i := 0; i < 20; i++ {
		got, err := Assign(1, i, bs)
		if err != nil {
			t.Fatalf("Assign(%d): %v", i, err)
		}
		if got.ID != 1 {
			t.Errorf("Assign(%d) = bracket %d, want 1", i, got.ID)
		}
	}
}
