//go:build !linux && !darwin

package deploy

import "errors"

func diskUsage(string) (uint64, uint64, error) {
	return 0, 0, errors.New("disk metrics not supported on this platform")
}
