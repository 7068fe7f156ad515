package model

// Client is a customer buying access to streaming profiles
type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Platform is a streaming service the business resells
type Platform struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is a platform login whose profiles are shared among clients
type Account struct {
	ID          string `json:"id"`
	PlatformID  string `json:"platform_id"`
	Email       string `json:"email"`
	MaxProfiles int    `json:"max_profiles"`
}
