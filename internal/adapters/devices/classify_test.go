package devices

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chaincast/session/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"eacces", &fs.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, domain.ErrPermissionDenied},
		{"permission text", errors.New("Permission denied by user"), domain.ErrPermissionDenied},
		{"missing node", &fs.PathError{Op: "open", Path: "/dev/video9", Err: syscall.ENOENT}, domain.ErrDeviceNotFound},
		{"driver search", errors.New("failed to find the best driver that fits the constraints"), domain.ErrDeviceNotFound},
		{"busy", fmt.Errorf("open: %w", syscall.EBUSY), domain.ErrDeviceUnavailable},
		{"unknown", errors.New("boom"), domain.ErrDeviceUnavailable},
		{"already kind", domain.ErrDeviceNotFound, domain.ErrDeviceNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tc.in), tc.want)
		})
	}
	assert.NoError(t, classify(nil))
}
