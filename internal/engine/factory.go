package engine

import (
	"fmt"
	"log/slog"
)

// NewDriver creates the driver selected by cfg.Backend.
func NewDriver(cfg Config, logger *slog.Logger) (Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := determineBackend(cfg)
	logger.Debug("selecting audio backend", "configured", cfg.Backend, "selected", backend)

	switch backend {
	case BackendMock:
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return NewMockDriver(cfg, logger), nil
	case BackendMalgo:
		return NewMalgoDriver(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown audio backend: %q", cfg.Backend)
	}
}

// determineBackend resolves auto to the hardware backend; miniaudio picks the
// host API (ALSA, PulseAudio, CoreAudio, WASAPI) itself.
func determineBackend(cfg Config) BackendType {
	switch cfg.Backend {
	case "", BackendAuto:
		return BackendMalgo
	default:
		return cfg.Backend
	}
}

// AvailableBackends lists the selectable backends.
func AvailableBackends() []BackendType {
	return []BackendType{BackendMalgo, BackendMock}
}
