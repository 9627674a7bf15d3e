package infra

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sstallion/go-hid"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

// HIDBackendImpl implements domain.HIDBackend on hidapi.
type HIDBackendImpl struct {
	initOnce sync.Once
	initErr  error
}

// NewHIDBackend creates a hidapi backend. The library is initialized on
// first use; call Close when done.
func NewHIDBackend() *HIDBackendImpl {
	return &HIDBackendImpl{}
}

func (b *HIDBackendImpl) init() error {
	b.initOnce.Do(func() {
		if err := hid.Init(); err != nil {
			b.initErr = fmt.Errorf("hidapi init: %w", err)
		}
	})
	return b.initErr
}

// Enumerate lists every attached HID interface.
func (b *HIDBackendImpl) Enumerate() ([]domain.DeviceInfo, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	var out []domain.DeviceInfo
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		out = append(out, deviceInfoFrom(info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate hid devices: %w", err)
	}
	return out, nil
}

// Open opens the interface at path.
func (b *HIDBackendImpl) Open(path string) (domain.DeviceHandle, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, err
	}
	return &hidHandle{dev: dev}, nil
}

// Close releases hidapi.
func (b *HIDBackendImpl) Close() error {
	if b.initErr != nil {
		return nil
	}
	return hid.Exit()
}

func deviceInfoFrom(info *hid.DeviceInfo) domain.DeviceInfo {
	return domain.DeviceInfo{
		Path:         info.Path,
		VendorID:     info.VendorID,
		ProductID:    info.ProductID,
		UsagePage:    info.UsagePage,
		Usage:        info.Usage,
		Interface:    info.InterfaceNbr,
		Product:      info.ProductStr,
		Manufacturer: info.MfrStr,
	}
}

// hidHandle adapts *hid.Device to domain.DeviceHandle.
type hidHandle struct {
	dev *hid.Device
}

func (h *hidHandle) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	n, err := h.dev.ReadWithTimeout(p, timeout)
	if errors.Is(err, hid.ErrTimeout) {
		return 0, nil
	}
	return n, err
}

func (h *hidHandle) Write(p []byte) (int, error) {
	return h.dev.Write(p)
}

func (h *hidHandle) Close() error {
	return h.dev.Close()
}

// Ensure HIDBackendImpl implements domain.HIDBackend.
var _ domain.HIDBackend = (*HIDBackendImpl)(nil)
