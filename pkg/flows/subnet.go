package flows

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPodCount is returned when the aggregation subnet window is
// not defined for the requested pod count.
var ErrUnsupportedPodCount = errors.New("unsupported pod count for aggregation routing")

// supportedPods lists the pod counts whose subnet windows have been worked
// out and verified against the wiring.
var supportedPods = map[int]bool{4: true, 8: true}

// CheckPods reports whether aggregation routing can be derived for k pods.
func CheckPods(k int) error {
	if !supportedPods[k] {
		return fmt.Errorf("%w: k=%d (supported: 4, 8)", ErrUnsupportedPodCount, k)
	}
	return nil
}

// SubnetGroup returns the k/2 edge subnet numbers aggregation switch num
// routes downstream, in downstream-port order. The window is chosen from
// num mod k/2: remainder 0 ends at num, remainder 1 starts at num, and
// remainder r starts r-1 below num.
func SubnetGroup(k, num int) ([]int, error) {
	if err := CheckPods(k); err != nil {
		return nil, err
	}
	if num < 1 || num > k*k/2 {
		return nil, fmt.Errorf("aggregation ordinal %d out of range for k=%d", num, k)
	}

	half := k / 2
	var start int
	switch r := num % half; r {
	case 0:
		start = num - half + 1
	case 1:
		start = num
	default:
		start = num - (r - 1)
	}

	out := make([]int, half)
	for i := range out {
		out[i] = start + i
	}
	return out, nil
}
