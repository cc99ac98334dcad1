package adapters

import "github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"

// Catalogue lists the built-in platforms. Tier 1 destinations are delivered first.
func Catalogue() []models.Platform {
	url := func(s string) *string { return &s }

	return []models.Platform{
		{Code: CodeMeta, Name: "Meta Conversions API", Category: "advertising", Tier: 1, AuthType: models.AuthTypeAccessToken, APIBaseURL: url(DefaultMetaBaseURL), IsActive: true},
		{Code: CodeGA4, Name: "Google Analytics 4", Category: "analytics", Tier: 1, AuthType: models.AuthTypeAPIKey, APIBaseURL: url(DefaultGA4URL), IsActive: true},
		{Code: CodeSgtm, Name: "Server-side Google Tag Manager", Category: "analytics", Tier: 1, AuthType: models.AuthTypeAPIKey, IsActive: true},
		{Code: CodeTikTok, Name: "TikTok Events API", Category: "advertising", Tier: 2, AuthType: models.AuthTypeAccessToken, APIBaseURL: url(DefaultTikTokURL), IsActive: true},
		{Code: CodePinterest, Name: "Pinterest Conversions API", Category: "advertising", Tier: 2, AuthType: models.AuthTypeBearerToken, APIBaseURL: url(DefaultPinterestBaseURL), IsActive: true},
		{Code: CodeSnapchat, Name: "Snapchat Conversions API", Category: "advertising", Tier: 3, AuthType: models.AuthTypeBearerToken, APIBaseURL: url(DefaultSnapchatURL), IsActive: true},
	}
}
