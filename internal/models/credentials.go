package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// ShopifyCredentials authenticate against a Shopify store's admin API.
type ShopifyCredentials struct {
	StoreURL    string `json:"storeUrl"`
	AccessToken string `json:"accessToken"`
}

// IsConnected reports whether the required fields are present.
func (c *ShopifyCredentials) IsConnected() bool {
	return c != nil && c.StoreURL != "" && c.AccessToken != ""
}

// MetaCredentials authenticate against the Meta Graph API.
type MetaCredentials struct {
	AdAccountID string `json:"adAccountId"`
	AccessToken string `json:"accessToken"`
}

func (c *MetaCredentials) IsConnected() bool {
	return c != nil && c.AdAccountID != "" && c.AccessToken != ""
}

// ShiprocketCredentials authenticate against the Shiprocket API. A session
// token is established from email/password; a previously issued token may
// be carried in the snapshot.
type ShiprocketCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

func (c *ShiprocketCredentials) IsConnected() bool {
	return c != nil && c.Email != "" && (c.Password != "" || c.Token != "")
}

// Credentials is the per-platform credential snapshot taken into a job at
// submission time. One variant per provider; a nil variant means the
// platform is not connected for the account.
type Credentials struct {
	Shopify    *ShopifyCredentials    `json:"shopify,omitempty"`
	Meta       *MetaCredentials       `json:"meta,omitempty"`
	Shiprocket *ShiprocketCredentials `json:"shiprocket,omitempty"`
}

// Connected reports whether the named platform has usable credentials.
func (c Credentials) Connected(platform string) bool {
	switch platform {
	case PlatformShopify:
		return c.Shopify.IsConnected()
	case PlatformMeta:
		return c.Meta.IsConnected()
	case PlatformShiprocket:
		return c.Shiprocket.IsConnected()
	}
	return false
}

// Value implements driver.Valuer for Credentials
func (c Credentials) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for Credentials
func (c *Credentials) Scan(value interface{}) error {
	if value == nil {
		*c = Credentials{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	}
	return errors.New("unsupported type for Credentials")
}
