package engine

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// Device describes one capture device known to miniaudio.
type Device struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// ListDevices enumerates capture devices through a short-lived miniaudio context.
func ListDevices() ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing audio context: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerating capture devices: %w", ErrUnavailable, err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}
