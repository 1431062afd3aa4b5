//go:build !linux && !darwin && !freebsd

package maintenance

import "math"

func freeBytes(string) (uint64, error) {
	return math.MaxUint64, nil
}
