package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPlan describes one subscribable plan. Nil maxima mean unlimited.
type BillingPlan struct {
	Key           string `mapstructure:"key"`
	Name          string `mapstructure:"name"`
	MaxProducts   *int   `mapstructure:"maxProducts"`
	MaxProjects   *int   `mapstructure:"maxProjects"`
	MaxComponents *int   `mapstructure:"maxComponents"`
	MaxUsers      *int   `mapstructure:"maxUsers"`
	MonthlyPrice  string `mapstructure:"monthlyPriceId"`
	AnnualPrice   string `mapstructure:"annualPriceId"`
}

type PlanCatalog struct {
	Plans []BillingPlan `mapstructure:"plans"`
}

const (
	PlanCommunity  = "community"
	PlanStarter    = "starter"
	PlanBusiness   = "business"
	PlanEnterprise = "enterprise"
)

// DefaultPlanCatalog is used when no plans.yml is mounted.
func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []BillingPlan{
			{Key: PlanCommunity, Name: "Community", MaxProducts: intPtr(1), MaxProjects: intPtr(1), MaxComponents: intPtr(5), MaxUsers: intPtr(2)},
			{Key: PlanStarter, Name: "Starter", MaxProducts: intPtr(5), MaxProjects: intPtr(10), MaxComponents: intPtr(50), MaxUsers: intPtr(10)},
			{Key: PlanBusiness, Name: "Business", MaxProducts: intPtr(25), MaxProjects: intPtr(50), MaxComponents: intPtr(200), MaxUsers: intPtr(50)},
			{Key: PlanEnterprise, Name: "Enterprise"},
		},
	}
}

func intPtr(v int) *int { return &v }

// PlanCatalogHolder serves the current plan catalog and hot-reloads it
// when the mounted config file changes.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

func NewPlanCatalogHolder() (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/sbomify/config") // Volume-mounted config
	v.AddConfigPath("/etc/sbomify")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("SBOMIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPlanCatalog()
		v.SetDefault("billing.plans", defaults.Plans)
	}

	var catalog PlanCatalog
	if err := v.UnmarshalKey("billing", &catalog); err != nil {
		return nil, err
	}
	if err := validatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[plan-catalog] reload failed: %v", err)
			return
		}
		if err := validatePlanCatalog(updated); err != nil {
			log.Printf("[plan-catalog] invalid catalog ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

// Find returns the plan with the given key, or false.
func (c PlanCatalog) Find(key string) (BillingPlan, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, plan := range c.Plans {
		if plan.Key == key {
			return plan, true
		}
	}
	return BillingPlan{}, false
}

// FindByPriceID resolves a plan from a provider price identifier.
func (c PlanCatalog) FindByPriceID(priceID string) (BillingPlan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return BillingPlan{}, false
	}
	for _, plan := range c.Plans {
		if plan.MonthlyPrice == priceID || plan.AnnualPrice == priceID {
			return plan, true
		}
	}
	return BillingPlan{}, false
}

func validatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("billing.plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(catalog.Plans))
	hasCommunity := false
	for _, plan := range catalog.Plans {
		key := strings.ToLower(strings.TrimSpace(plan.Key))
		if key == "" {
			return errors.New("billing.plans entries need a key")
		}
		if _, dup := seen[key]; dup {
			return errors.New("billing.plans keys must be unique")
		}
		seen[key] = struct{}{}
		if key == PlanCommunity {
			hasCommunity = true
		}
	}
	if !hasCommunity {
		return errors.New("billing.plans must include the community plan")
	}
	return nil
}
