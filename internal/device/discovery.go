package device

import (
	"fmt"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

// VendorUsagePageMin is the first vendor-defined usage page. Interfaces
// on these pages can be opened on macOS without Input Monitoring
// permission.
const VendorUsagePageMin = 0xFF00

// Accessible reports whether info is on a vendor-defined usage page.
func Accessible(info domain.DeviceInfo) bool {
	return info.UsagePage >= VendorUsagePageMin
}

// SelectDevice picks the interface to open among infos: the first
// vendor-page interface of (vendorID, productID), else the first
// match. Interfaces without a path are skipped.
func SelectDevice(infos []domain.DeviceInfo, vendorID, productID uint16) (domain.DeviceInfo, bool) {
	var first *domain.DeviceInfo
	for i := range infos {
		info := &infos[i]
		if info.VendorID != vendorID || info.ProductID != productID || info.Path == "" {
			continue
		}
		if Accessible(*info) {
			return *info, true
		}
		if first == nil {
			first = info
		}
	}
	if first == nil {
		return domain.DeviceInfo{}, false
	}
	return *first, true
}

// Describe renders one line of `list-devices` output.
func Describe(info domain.DeviceInfo) string {
	usagePage := "----"
	usage := "--"
	if info.UsagePage != 0 {
		usagePage = fmt.Sprintf("0x%04x", info.UsagePage)
		usage = fmt.Sprintf("0x%02x", info.Usage)
	}
	product := info.Product
	if product == "" {
		product = "Unknown"
	}
	line := fmt.Sprintf("Vendor: %s Product: %s UsagePage: %s Usage: %s - %s",
		FormatID(info.VendorID), FormatID(info.ProductID), usagePage, usage, product)
	if Accessible(info) {
		line += " [accessible]"
	}
	return line
}
