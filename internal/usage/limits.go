package usage

// Tier is one entitlement level. Limit 0 means unlimited; Priority maps to
// the queue lane (0 low, 1 normal, 2 high).
type Tier struct {
	Name     string
	Limit    int64
	Priority int
}

// ConfigResolver resolves owner entitlements from static configuration. It
// stands in for the external tier/entitlement source, which is out of scope.
type ConfigResolver struct {
	tiers       map[string]Tier
	owners      map[string]string
	defaultTier string
}

func NewConfigResolver(tiers map[string]Tier, owners map[string]string, defaultTier string) *ConfigResolver {
	if tiers == nil {
		tiers = map[string]Tier{}
	}
	if owners == nil {
		owners = map[string]string{}
	}
	return &ConfigResolver{tiers: tiers, owners: owners, defaultTier: defaultTier}
}

func (r *ConfigResolver) resolve(ownerID string) Tier {
	name, ok := r.owners[ownerID]
	if !ok {
		name = r.defaultTier
	}
	tier, ok := r.tiers[name]
	if !ok {
		return Tier{Name: name}
	}
	return tier
}

func (r *ConfigResolver) Limit(ownerID string) int64 {
	return r.resolve(ownerID).Limit
}

// Priority returns the queue lane for the owner's tier.
func (r *ConfigResolver) Priority(ownerID string) int {
	return r.resolve(ownerID).Priority
}
