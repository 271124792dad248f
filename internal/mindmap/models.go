package mindmap

import (
	"strings"
	"time"
)

// Account is the reference to a user as seen by the collaboration core.
// Only ID takes part in identity comparisons; Email and FullName are for display.
type Account struct {
	ID       string `json:"id" bson:"id"`
	Email    string `json:"email,omitempty" bson:"email,omitempty"`
	FullName string `json:"fullName,omitempty" bson:"fullName,omitempty"`
}

// Anonymous reports whether the account carries no identity.
func (a Account) Anonymous() bool {
	return strings.TrimSpace(a.ID) == ""
}

// DisplayName prefers the full name, then the email, then the id.
func (a Account) DisplayName() string {
	switch {
	case a.FullName != "":
		return a.FullName
	case a.Email != "":
		return a.Email
	}
	return a.ID
}

// SameIdentity compares two account references by their stable identity key.
// Two anonymous accounts are never the same identity.
func SameIdentity(a, b Account) bool {
	if a.Anonymous() || b.Anonymous() {
		return false
	}
	return a.ID == b.ID
}

// Document is the collaboratively edited mindmap. Content is an opaque blob
// kept in the content store; the metadata repositories never persist it.
type Document struct {
	ID              int64     `json:"id" bson:"id"`
	Title           string    `json:"title" bson:"title"`
	Description     string    `json:"description,omitempty" bson:"description,omitempty"`
	Content         []byte    `json:"content,omitempty" bson:"-"`
	Public          bool      `json:"public" bson:"public"`
	SpamDetected    bool      `json:"spamDetected" bson:"spamDetected"`
	SpamDescription string    `json:"spamDescription,omitempty" bson:"spamDescription,omitempty"`
	Creator         Account   `json:"creator" bson:"creator"`
	LastEditor      Account   `json:"lastEditor" bson:"lastEditor"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
	LastModified    time.Time `json:"lastModified" bson:"lastModified"`
}

// Clone returns a deep copy so callers can't alias stored content.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Content != nil {
		c.Content = append([]byte(nil), d.Content...)
	}
	return &c
}
