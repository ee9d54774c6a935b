//go:build !linux && !darwin

package service

import "fmt"

func newPlatformManager(exePath string, runner commandRunner) (Manager, error) {
	return nil, fmt.Errorf("login service management is not supported on this platform")
}
