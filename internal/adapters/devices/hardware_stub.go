//go:build !hardware

package devices

import (
	"fmt"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// NewHardware reports that device capture was not compiled in. Build with
// -tags hardware to enable it.
func NewHardware() (core.Capturer, error) {
	return nil, fmt.Errorf("%w: built without the hardware tag", domain.ErrDeviceNotFound)
}
