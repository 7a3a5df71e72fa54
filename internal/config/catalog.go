package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogItem is a priced administrative action.
type CatalogItem struct {
	Price       string `mapstructure:"price"`
	Description string `mapstructure:"description"`
}

// Catalog maps catalog item ids to their price list entry.
type Catalog struct {
	Items map[string]CatalogItem `mapstructure:"items"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Items: map[string]CatalogItem{
			"1001": {Price: "25.00", Description: "Team creation"},
			"1002": {Price: "5.00", Description: "Roster change"},
			"1003": {Price: "15.00", Description: "Ownership transfer"},
			"1004": {Price: "5.00", Description: "Online ID change"},
			"1005": {Price: "50.00", Description: "League registration"},
			"1006": {Price: "20.00", Description: "Team rebrand"},
			"1007": {Price: "30.00", Description: "Tournament registration"},
		},
	}
}

// Price returns the configured price for itemID, if any.
func (c Catalog) Price(itemID string) (decimal.Decimal, bool) {
	item, ok := c.Items[strings.TrimSpace(itemID)]
	if !ok {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(strings.TrimSpace(item.Price))
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

// NewStaticCatalogHolder serves a fixed catalog without watching any file.
func NewStaticCatalogHolder(catalog Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()

	if cfg.CatalogPath != "" {
		v.SetConfigFile(cfg.CatalogPath)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/rosterpay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ROSTERPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfg.CatalogPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		log.Info("catalog file not found, using built-in prices")
		return NewStaticCatalogHolder(DefaultCatalog()), nil
	}

	var catalog Catalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}

	holder := NewStaticCatalogHolder(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Catalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Warn("catalog reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := validateCatalog(updated); err != nil {
			log.Warn("invalid catalog ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name), zap.Int("items", len(updated.Items)))
	})

	return holder, nil
}

func (h *CatalogHolder) Get() Catalog {
	if h == nil {
		return DefaultCatalog()
	}
	catalog, ok := h.current.Load().(Catalog)
	if !ok {
		return DefaultCatalog()
	}
	return catalog
}

func validateCatalog(c Catalog) error {
	if len(c.Items) == 0 {
		return errors.New("catalog.items cannot be empty")
	}
	for id, item := range c.Items {
		if strings.Contains(id, "-") {
			return fmt.Errorf("catalog item %q: id must not contain '-'", id)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(item.Price))
		if err != nil {
			return fmt.Errorf("catalog item %q: %w", id, err)
		}
		if !price.IsPositive() {
			return fmt.Errorf("catalog item %q: price must be positive", id)
		}
	}
	return nil
}
