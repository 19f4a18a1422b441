package recovery

import (
	"sort"
	"sync"

	"github.com/vietddude/migrator/internal/core/domain"
)

// Known error codes registered by DefaultCatalog.
const (
	CodeDataCorruption   = "ERR_DATA_001"
	CodeDuplicateKey     = "ERR_DATA_002"
	CodeNetworkTimeout   = "ERR_NET_001"
	CodeValidationFailed = "ERR_VAL_001"
	CodeOutOfMemory      = "ERR_RES_001"
	CodeTimeout          = "ERR_TIMEOUT_001"
	CodePermission       = "ERR_PERM_001"
	CodeStorageQuota     = "ERR_RES_002"
)

// Catalog maps error codes to their known failure descriptions.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]domain.CatalogEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]domain.CatalogEntry)}
}

// DefaultCatalog creates a catalog pre-populated with the known failure modes.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, e := range defaultEntries() {
		c.Register(e)
	}
	return c
}

// Register adds or overwrites an entry by code.
func (c *Catalog) Register(entry domain.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Code] = entry
}

// Lookup returns the entry for code.
func (c *Catalog) Lookup(code string) (domain.CatalogEntry, bool) {
	if code == "" {
		return domain.CatalogEntry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[code]
	return e, ok
}

// Entries returns all entries sorted by code.
func (c *Catalog) Entries() []domain.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.CatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func defaultEntries() []domain.CatalogEntry {
	return []domain.CatalogEntry{
		{
			Code:        CodeDataCorruption,
			Level:       domain.LevelCritical,
			Category:    domain.CategoryDataIntegrity,
			Message:     "Data corruption detected",
			Description: "A migrated record failed integrity verification",
			PossibleCauses: []string{
				"Interrupted write during a previous run",
				"Source record does not match the expected schema",
			},
			SuggestedFixes: []string{
				"Roll back to the last checkpoint",
				"Inspect the source record manually",
			},
			RecoveryStrategy: domain.StrategyRollback,
		},
		{
			Code:             CodeDuplicateKey,
			Level:            domain.LevelError,
			Category:         domain.CategoryDataIntegrity,
			Message:          "Duplicate key",
			Description:      "The target store already contains a record with this key",
			PossibleCauses:   []string{"Record migrated by an earlier run"},
			SuggestedFixes:   []string{"Skip the record"},
			RecoveryStrategy: domain.StrategySkip,
			MaxRetries:       0,
		},
		{
			Code:             CodeNetworkTimeout,
			Level:            domain.LevelError,
			Category:         domain.CategoryNetwork,
			Message:          "Network timeout",
			Description:      "The storage backend did not answer in time",
			PossibleCauses:   []string{"Backend overloaded", "Connectivity loss"},
			SuggestedFixes:   []string{"Retry with exponential backoff"},
			RecoveryStrategy: domain.StrategyRetryWithBackoff,
			MaxRetries:       3,
		},
		{
			Code:             CodeValidationFailed,
			Level:            domain.LevelWarning,
			Category:         domain.CategoryValidation,
			Message:          "Validation failed",
			Description:      "The record does not satisfy the target schema",
			PossibleCauses:   []string{"Missing required field", "Malformed payload"},
			SuggestedFixes:   []string{"Skip the record and fix it at the source"},
			RecoveryStrategy: domain.StrategySkip,
		},
		{
			Code:             CodeOutOfMemory,
			Level:            domain.LevelCritical,
			Category:         domain.CategoryResource,
			Message:          "Out of memory",
			Description:      "The process ran out of memory while migrating",
			PossibleCauses:   []string{"Batch size too large"},
			SuggestedFixes:   []string{"Reduce the batch size", "Roll back and restart"},
			RecoveryStrategy: domain.StrategyRollback,
		},
		{
			Code:             CodeTimeout,
			Level:            domain.LevelError,
			Category:         domain.CategoryTimeout,
			Message:          "Operation timed out",
			Description:      "A migration step exceeded its deadline",
			SuggestedFixes:   []string{"Retry the operation"},
			RecoveryStrategy: domain.StrategyRetry,
			MaxRetries:       2,
		},
		{
			Code:             CodePermission,
			Level:            domain.LevelError,
			Category:         domain.CategoryPermission,
			Message:          "Permission denied",
			Description:      "The migration lacks access to the target store",
			SuggestedFixes:   []string{"Grant write access and re-run manually"},
			RecoveryStrategy: domain.StrategyManual,
		},
		{
			Code:             CodeStorageQuota,
			Level:            domain.LevelCritical,
			Category:         domain.CategoryResource,
			Message:          "Storage quota exceeded",
			Description:      "The target store refused writes because it is full",
			SuggestedFixes:   []string{"Free space, then resume the migration"},
			RecoveryStrategy: domain.StrategyManual,
		},
	}
}
