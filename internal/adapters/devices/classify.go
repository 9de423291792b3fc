// Package devices implements core.Capturer for real devices and for
// generated test media.
package devices

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/chaincast/session/internal/domain"
)

// classify maps a driver error onto the media error kinds. Unknown errors
// are reported as unavailable devices.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrDeviceNotFound),
		errors.Is(err, domain.ErrDeviceUnavailable):
		return err
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return fmt.Errorf("%w: %v", domain.ErrDeviceNotFound, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such device"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
}
