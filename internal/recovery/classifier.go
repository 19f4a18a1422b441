package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
)

// Rule is one entry of the ordered heuristic table. The first matching rule wins.
type Rule struct {
	Name     string
	Match    func(err error, msg string) bool
	Category domain.ErrorCategory
	Level    domain.ErrorLevel
}

// DefaultRules is the heuristic table applied to errors without a known code.
// msg is the lowercased error message.
var DefaultRules = []Rule{
	{
		Name: "timeout",
		Match: func(err error, msg string) bool {
			return errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout")
		},
		Category: domain.CategoryTimeout,
		Level:    domain.LevelError,
	},
	{
		Name:     "network",
		Match:    containsAny("network", "fetch"),
		Category: domain.CategoryNetwork,
		Level:    domain.LevelError,
	},
	{
		Name:     "validation",
		Match:    containsAny("validation", "invalid"),
		Category: domain.CategoryValidation,
		Level:    domain.LevelWarning,
	},
	{
		Name:     "resource",
		Match:    containsAny("memory", "heap"),
		Category: domain.CategoryResource,
		Level:    domain.LevelCritical,
	},
}

func containsAny(needles ...string) func(error, string) bool {
	return func(_ error, msg string) bool {
		for _, n := range needles {
			if strings.Contains(msg, n) {
				return true
			}
		}
		return false
	}
}

type coder interface {
	ErrorCode() string
}

// Classifier turns raw failures into MigrationErrors.
type Classifier struct {
	catalog *Catalog
	rules   []Rule
	clock   clock.Clock
}

// NewClassifier creates a classifier using the catalog and rule table.
// A nil rules slice selects DefaultRules.
func NewClassifier(catalog *Catalog, rules []Rule, clk clock.Clock) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Classifier{catalog: catalog, rules: rules, clock: clk}
}

// Classify returns the MigrationError for err. A *domain.MigrationError in
// the chain is returned as is so that its retry count survives re-submission.
func (c *Classifier) Classify(err error) *domain.MigrationError {
	var existing *domain.MigrationError
	if errors.As(err, &existing) {
		return existing
	}

	me := domain.NewMigrationError(uuid.New().String(), err)
	me.Timestamp = c.clock.Now()

	var coded coder
	if errors.As(err, &coded) {
		me.Code = coded.ErrorCode()
	}
	var ce *domain.CodedError
	if errors.As(err, &ce) && ce.Context != nil {
		me.Context = ce.Context
	}

	if entry, ok := c.catalog.Lookup(me.Code); ok {
		me.Level = entry.Level
		me.Category = entry.Category
		me.RecoveryStrategy = entry.RecoveryStrategy
		if me.Message == "" {
			me.Message = entry.Message
		}
		return me
	}

	me.Category, me.Level = c.match(err, me.Message)
	me.RecoveryStrategy = domain.StrategyNone
	return me
}

func (c *Classifier) match(err error, message string) (domain.ErrorCategory, domain.ErrorLevel) {
	msg := strings.ToLower(message)
	for _, r := range c.rules {
		if r.Match(err, msg) {
			return r.Category, r.Level
		}
	}
	return domain.CategoryUnknown, domain.LevelError
}
