package store

// MaxTransactItems is the largest batch a single transaction may carry.
const MaxTransactItems = 100

// Config holds configuration for the Store.
type Config struct {
	// TableName is the single table holding every entity.
	// Default: "denorm"
	TableName string

	// PageSize is the query page size used when a Query sets no Limit.
	// Default: 100
	// Max: 1000
	PageSize int32

	// ConsistentRead enables strongly consistent reads for Get.
	// Index queries are always eventually consistent.
	ConsistentRead bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TableName: "denorm",
		PageSize:  100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "denorm"
	}
	if c.PageSize < 1 {
		c.PageSize = 100
	}
	if c.PageSize > 1000 {
		c.PageSize = 1000
	}
}
