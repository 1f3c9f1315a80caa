package models

// ProviderStatus is the runtime view of one provider.
type ProviderStatus struct {
	Name        string             `json:"name"`
	Kind        Kind               `json:"kind"`
	Priority    int                `json:"priority"`
	Domain      string             `json:"domain"`
	Breaker     BreakerStatus      `json:"breaker"`
	Credentials []CredentialStatus `json:"credentials"`
}

// GatewayStatus is a point-in-time snapshot of every gateway component.
type GatewayStatus struct {
	Providers []ProviderStatus `json:"providers"`
	Budget    []BudgetStatus   `json:"budget"`
	Cache     *CacheStats      `json:"cache,omitempty"`
}
