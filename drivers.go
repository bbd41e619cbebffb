package casefs

import (
	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/driver/block"
	"github.com/hupe1980/casefs/driver/plain"
	"github.com/hupe1980/casefs/driver/sqlite"
)

// DefaultKind is the driver kind used when Create is called with an empty
// kind: the packed block store.
const DefaultKind = block.Kind

// DefaultDrivers returns a new table holding the block, plain and sqlite
// drivers. Each call returns an independent table.
func DefaultDrivers() *driver.Table {
	return driver.NewTable(block.Factory{}, plain.Factory{}, sqlite.Factory{})
}
