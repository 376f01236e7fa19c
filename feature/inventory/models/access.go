package models

import "stocksync/core/shopify"

// StoreAccess is the resolved, ready-to-use view of a store connection: the
// marketplace credentials plus the sync policy the engines need.
type StoreAccess struct {
	StoreKey          string
	Credentials       shopify.Credentials
	TruthMode         string
	PrimaryLocationID *int64
}

// Resolve validates a store connection and builds its access view. It is the
// single place credentials are checked; every path that needs remote access
// goes through it.
func (c *StoreConnection) Resolve() (*StoreAccess, error) {
	if !c.Connected {
		return nil, &shopify.CredentialsError{StoreKey: c.StoreKey, Reason: "store is disconnected"}
	}
	if c.Domain == "" || c.AccessToken == "" {
		return nil, &shopify.CredentialsError{StoreKey: c.StoreKey, Reason: "domain or access token not set"}
	}

	truthMode := c.TruthMode
	if truthMode == "" {
		truthMode = TruthModeDatabase
	}
	return &StoreAccess{
		StoreKey: c.StoreKey,
		Credentials: shopify.Credentials{
			StoreKey:    c.StoreKey,
			Domain:      c.Domain,
			AccessToken: c.AccessToken,
		},
		TruthMode:         truthMode,
		PrimaryLocationID: c.PrimaryLocationID,
	}, nil
}
