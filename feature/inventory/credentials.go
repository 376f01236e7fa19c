package inventory

import (
	"stocksync/core/shopify"
	"stocksync/feature/inventory/models"

	"gorm.io/gorm"
)

// Resolver is the single entry point for turning a store key into marketplace
// access. Both the push and reconciliation paths go through it; nothing else
// reads store credentials.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a credential resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve looks up the store connection and validates it. Unknown and
// disconnected stores surface as *shopify.CredentialsError.
func (r *Resolver) Resolve(storeKey string) (*models.StoreAccess, error) {
	conn, err := models.GetStoreConnection(r.db, storeKey)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, &shopify.CredentialsError{StoreKey: storeKey, Reason: "store not registered"}
		}
		return nil, err
	}
	return conn.Resolve()
}
