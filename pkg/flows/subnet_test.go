package flows

import (
	"errors"
	"reflect"
	"testing"
)

func TestSubnetGroupK4(t *testing.T) {
	tests := []struct {
		num  int
		want []int
	}{
		{1, []int{1, 2}},
		{2, []int{1, 2}},
		{3, []int{3, 4}},
		{4, []int{3, 4}},
		{7, []int{7, 8}},
		{8, []int{7, 8}},
	}
	for _, tt := range tests {
		got, err := SubnetGroup(4, tt.num)
		if err != nil {
			t.Fatalf("SubnetGroup(4, %d): %v", tt.num, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SubnetGroup(4, %d) = %v, want %v", tt.num, got, tt.want)
		}
	}
}

func TestSubnetGroupK8(t *testing.T) {
	tests := []struct {
		num  int
		want []int
	}{
		{1, []int{1, 2, 3, 4}}, // remainder 1
		{2, []int{1, 2, 3, 4}}, // remainder 2
		{3, []int{1, 2, 3, 4}}, // remainder 3
		{4, []int{1, 2, 3, 4}}, // remainder 0
		{6, []int{5, 6, 7, 8}},
		{32, []int{29, 30, 31, 32}},
	}
	for _, tt := range tests {
		got, err := SubnetGroup(8, tt.num)
		if err != nil {
			t.Fatalf("SubnetGroup(8, %d): %v", tt.num, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SubnetGroup(8, %d) = %v, want %v", tt.num, got, tt.want)
		}
	}
}

func TestSubnetGroupMatchesPod(t *testing.T) {
	for _, k := range []int{4, 8} {
		half := k / 2
		for num := 1; num <= k*k/2; num++ {
			got, err := SubnetGroup(k, num)
			if err != nil {
				t.Fatal(err)
			}
			pod := (num - 1) / half
			for i, s := range got {
				if s != pod*half+i+1 {
					t.Errorf("k=%d agg %d: subnet %d at index %d outside its pod", k, num, s, i)
				}
			}
		}
	}
}

func TestSubnetGroupUnsupported(t *testing.T) {
	for _, k := range []int{2, 6, 10} {
		if _, err := SubnetGroup(k, 1); !errors.Is(err, ErrUnsupportedPodCount) {
			t.Errorf("k=%d: expected ErrUnsupportedPodCount, got %v", k, err)
		}
	}
	if _, err := SubnetGroup(4, 9); err == nil {
		t.Error("expected range error for ordinal 9 with k=4")
	}
}
