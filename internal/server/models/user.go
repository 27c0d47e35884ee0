// Package models defines the records pkgindex keeps in its record store.
package models

// User is the per-user record. It owns the configs of all the user's indexes.
type User struct {
	PwSalt  string                  `json:"pwsalt"`
	PwHash  string                  `json:"pwhash"`
	PwAlgo  string                  `json:"pwalgo,omitempty"`
	Email   string                  `json:"email,omitempty"`
	Indexes map[string]*IndexConfig `json:"indexes,omitempty"`
}

// UserInfo is the public view of a user: no salt, no hash.
type UserInfo struct {
	Username string                  `json:"username"`
	Email    string                  `json:"email,omitempty"`
	Indexes  map[string]*IndexConfig `json:"indexes,omitempty"`
}
