// Package devices provides the static registry of Android devices available
// for test runs and the mapping from catalog ids to device-lab model codes.
package devices

import (
	"sort"
	"strings"
)

// Device describes a single catalog entry.
type Device struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Manufacturer   string `json:"manufacturer"`
	AndroidVersion string `json:"android_version"`
	APILevel       int    `json:"api_level"`
	ScreenSize     string `json:"screen_size"`
	Resolution     string `json:"resolution"`
	Popular        bool   `json:"popular"`
}

// DefaultProviderCode is used for catalog ids that have no explicit device-lab
// model mapping. Submissions degrade to this model rather than failing.
const DefaultProviderCode = "sm-g973"

// Catalog is a read-only device registry, loaded once at process start and
// safe for concurrent use without locking.
type Catalog struct {
	ordered []Device
	byID    map[string]Device
	codes   map[string]string
}

// NewCatalog builds a catalog from the built-in device list.
func NewCatalog() *Catalog {
	return newCatalog(catalogDevices, providerCodes)
}

func newCatalog(list []Device, codes map[string]string) *Catalog {
	c := &Catalog{
		ordered: make([]Device, len(list)),
		byID:    make(map[string]Device, len(list)),
		codes:   codes,
	}
	copy(c.ordered, list)
	for _, d := range list {
		c.byID[d.ID] = d
	}
	return c
}

// Lookup returns the device for the given id.
func (c *Catalog) Lookup(id string) (Device, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// ListAll returns all devices in catalog order.
func (c *Catalog) ListAll() []Device {
	out := make([]Device, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ListDefault returns the ids of up to n popular devices, catalog order first.
func (c *Catalog) ListDefault(n int) []string {
	ids := make([]string, 0, n)
	for _, d := range c.ordered {
		if len(ids) == n {
			break
		}
		if d.Popular {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// ByManufacturer returns devices from the named manufacturer, case-insensitive.
func (c *Catalog) ByManufacturer(manufacturer string) []Device {
	var out []Device
	for _, d := range c.ordered {
		if strings.EqualFold(d.Manufacturer, manufacturer) {
			out = append(out, d)
		}
	}
	return out
}

// ByAPILevel returns devices running the given Android API level.
func (c *Catalog) ByAPILevel(apiLevel int) []Device {
	var out []Device
	for _, d := range c.ordered {
		if d.APILevel == apiLevel {
			out = append(out, d)
		}
	}
	return out
}

// ProviderCode translates a catalog id into the device-lab model code.
// Unmapped ids fall back to DefaultProviderCode so that catalog gaps do not
// block submission.
func (c *Catalog) ProviderCode(id string) string {
	if code, ok := c.codes[id]; ok {
		return code
	}
	return DefaultProviderCode
}

// ProviderCodes translates a device selection into de-duplicated device-lab
// model codes, preserving first-seen order.
func (c *Catalog) ProviderCodes(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		code := c.ProviderCode(id)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// Validate checks that every id in the selection exists in the catalog.
// It returns the unknown ids sorted for stable error reporting.
func (c *Catalog) Validate(ids []string) []string {
	var unknown []string
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return unknown
}
