package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventStatus is the lifecycle state of a marketing event
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusDelivered  EventStatus = "delivered"
	EventStatusRetrying   EventStatus = "retrying"
	EventStatusFailed     EventStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusDelivered || s == EventStatusFailed
}

// AttemptStatus is the outcome of a single delivery attempt
type AttemptStatus string

const (
	AttemptStatusSuccess     AttemptStatus = "success"
	AttemptStatusFailed      AttemptStatus = "failed"
	AttemptStatusTimeout     AttemptStatus = "timeout"
	AttemptStatusRateLimited AttemptStatus = "rate_limited"
)

// DestinationType selects direct platform delivery or the sGTM relay
type DestinationType string

const (
	DestinationSgtm   DestinationType = "sgtm"
	DestinationDirect DestinationType = "direct"
)

// SgtmClientType selects the payload shape sent to the relay
type SgtmClientType string

const (
	SgtmClientGA4    SgtmClientType = "ga4"
	SgtmClientCustom SgtmClientType = "custom"
)

// AuthType describes how a platform authenticates outbound calls
type AuthType string

const (
	AuthTypeAPIKey      AuthType = "api_key"
	AuthTypeOAuth2      AuthType = "oauth2"
	AuthTypeAccessToken AuthType = "access_token"
	AuthTypeBearerToken AuthType = "bearer_token"
	AuthTypeBasicAuth   AuthType = "basic_auth"
)

// DefaultSourceSystem tags events ingested from the order management system
const DefaultSourceSystem = "oms"

// MaxResponseBodyLength bounds the stored attempt response body
const MaxResponseBodyLength = 5000

// Storefront is a merchant tenant and the unit of kill-switch scoping
type Storefront struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Code      string    `gorm:"column:code;size:100;not null;uniqueIndex" json:"storefront_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Domain    *string   `gorm:"size:255" json:"domain"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
}

// Platform is an advertising or analytics destination
type Platform struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Code       string    `gorm:"column:code;size:50;not null;uniqueIndex" json:"platform_code"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Category   string    `gorm:"size:50" json:"category"`
	Tier       int       `gorm:"not null" json:"tier"`
	AuthType   AuthType  `gorm:"size:20;not null" json:"auth_type"`
	APIBaseURL *string   `gorm:"size:500" json:"api_base_url"`
	IsActive   bool      `gorm:"not null" json:"is_active"`
}

// Credential binds an encrypted secret bundle to one storefront and platform
type Credential struct {
	ID                   uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	StorefrontID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_credential_storefront_platform" json:"storefront_id"`
	PlatformID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_credential_storefront_platform" json:"platform_id"`
	CredentialsEncrypted string          `gorm:"type:text;not null" json:"-"`
	DestinationType      DestinationType `gorm:"size:10;not null" json:"destination_type"`
	PixelID              *string         `gorm:"size:100" json:"pixel_id"`
	AccountID            *string         `gorm:"size:100" json:"account_id"`
	IsActive             bool            `gorm:"not null" json:"is_active"`
	LastUsedAt           *time.Time      `json:"last_used_at"`
	LastError            *string         `gorm:"type:text" json:"last_error"`
	Storefront           Storefront      `gorm:"foreignKey:StorefrontID" json:"-"`
	Platform             Platform        `gorm:"foreignKey:PlatformID" json:"-"`
}

// TableName overrides the default table name
func (Credential) TableName() string {
	return "platform_credentials"
}

// SgtmConfig is the per-storefront relay configuration
type SgtmConfig struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	StorefrontID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"storefront_id"`
	SgtmURL            string         `gorm:"column:sgtm_url;size:500;not null" json:"sgtm_url"`
	ClientType         SgtmClientType `gorm:"size:10;not null" json:"client_type"`
	ContainerID        *string        `gorm:"size:50" json:"container_id"`
	MeasurementID      *string        `gorm:"size:50" json:"measurement_id"`
	APISecretEncrypted *string        `gorm:"column:api_secret_encrypted;type:text" json:"-"`
	CustomEndpointPath *string        `gorm:"size:255" json:"custom_endpoint_path"`
	CustomHeaders      *string        `gorm:"type:text" json:"custom_headers"`
	IsActive           bool           `gorm:"not null" json:"is_active"`
	Storefront         Storefront     `gorm:"foreignKey:StorefrontID" json:"-"`
}

// TableName overrides the default table name
func (SgtmConfig) TableName() string {
	return "storefront_sgtm_configs"
}

// Event is an ingested conversion event awaiting or past delivery
type Event struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	EventID        string      `gorm:"column:event_id;size:100;not null;uniqueIndex" json:"event_id"`
	StorefrontID   *uuid.UUID  `gorm:"type:uuid;index" json:"storefront_id"`
	StorefrontCode *string     `gorm:"size:100" json:"storefront_code"`
	EventType      string      `gorm:"size:100;not null;index" json:"event_type"`
	EventPayload   string      `gorm:"type:text;not null" json:"event_payload"`
	SourceSystem   string      `gorm:"size:50;not null" json:"source_system"`
	Status         EventStatus `gorm:"size:20;not null;index" json:"status"`
	RetryCount     int         `gorm:"not null" json:"retry_count"`
	NextRetryAt    *time.Time  `gorm:"index" json:"next_retry_at"`
	ProcessedAt    *time.Time  `json:"processed_at"`
	ErrorMessage   *string     `gorm:"type:text" json:"error_message"`
	Attempts       []Attempt   `gorm:"foreignKey:EventID" json:"attempts,omitempty"`
}

// TableName overrides the default table name
func (Event) TableName() string {
	return "marketing_events"
}

// Attempt is an append-only record of one delivery try against one credential
type Attempt struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	EventID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"event_id"`
	CredentialID    *uuid.UUID      `gorm:"type:uuid;index" json:"credential_id"`
	DestinationType DestinationType `gorm:"size:10;not null" json:"destination_type"`
	Status          AttemptStatus   `gorm:"size:20;not null" json:"status"`
	HTTPStatusCode  *int            `json:"http_status_code"`
	ResponseBody    *string         `gorm:"type:text" json:"response_body"`
	ErrorMessage    *string         `gorm:"type:text" json:"error_message"`
	DurationMs      *int            `json:"duration_ms"`
	AttemptedAt     time.Time       `gorm:"not null;index" json:"attempted_at"`
}

// TableName overrides the default table name
func (Attempt) TableName() string {
	return "event_attempts"
}

// BeforeCreate assigns a primary key when none is set
func (s *Storefront) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// BeforeCreate assigns a primary key when none is set
func (p *Platform) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// BeforeCreate assigns a primary key when none is set
func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// BeforeCreate assigns a primary key when none is set
func (c *SgtmConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// BeforeCreate assigns a primary key and the initial lifecycle fields
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EventStatusPending
	}
	if e.SourceSystem == "" {
		e.SourceSystem = DefaultSourceSystem
	}
	if e.StorefrontID == nil && (e.StorefrontCode == nil || *e.StorefrontCode == "") {
		return errors.New("event requires a storefront reference or a storefront code")
	}
	return nil
}

// BeforeCreate assigns a primary key and attempt timestamp
func (a *Attempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	return nil
}

// BeforeUpdate rejects any modification of an attempt row
func (a *Attempt) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("event attempts are immutable")
}

// SetupModels runs the schema migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Storefront{},
		&Platform{},
		&Credential{},
		&SgtmConfig{},
		&Event{},
		&Attempt{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to migrate models")
	}
	return nil
}
