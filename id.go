package settle

import "github.com/xraph/settle/id"

// ID is the identifier type for ticks, allocations and notifications.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
