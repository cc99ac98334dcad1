package repositories

import (
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/database"
)

// Repositories bundles every repository over one database
type Repositories struct {
	Storefronts  StorefrontRepository
	Platforms    PlatformRepository
	Credentials  CredentialRepository
	RelayConfigs RelayConfigRepository
	Events       EventRepository
	Attempts     AttemptRepository
}

// New wires all repositories to the write and read-only handles
func New(db *database.Database) *Repositories {
	return &Repositories{
		Storefronts:  NewStorefrontRepository(db.Write, db.ReadOnly),
		Platforms:    NewPlatformRepository(db.Write, db.ReadOnly),
		Credentials:  NewCredentialRepository(db.Write, db.ReadOnly),
		RelayConfigs: NewRelayConfigRepository(db.Write, db.ReadOnly),
		Events:       NewEventRepository(db.Write, db.ReadOnly),
		Attempts:     NewAttemptRepository(db.Write, db.ReadOnly),
	}
}
