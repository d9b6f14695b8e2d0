package model

import (
	"fmt"
	"strings"
)

// CreatorRecord is a discovered creator as returned by one provider chunk.
// Canonical identity is derived from platform and handle, not stored.
type CreatorRecord struct {
	Handle      string                 `json:"handle,omitempty"`
	ExternalID  string                 `json:"externalId,omitempty"`
	DisplayName string                 `json:"displayName,omitempty"`
	Platform    string                 `json:"platform,omitempty"`
	AvatarURL   string                 `json:"avatarUrl,omitempty"`
	Followers   int64                  `json:"followers,omitempty"`
	Emails      []string               `json:"emails,omitempty"`
	Bio         *BioEnrichment         `json:"bio,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// BioEnrichment holds bio-derived enrichment for a creator
type BioEnrichment struct {
	Text     string   `json:"text,omitempty"`
	Links    []string `json:"links,omitempty"`
	Location string   `json:"location,omitempty"`
	Category string   `json:"category,omitempty"`
}

// NormalizeHandle lower-cases a handle and strips a leading @.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// ResolvePlatform picks the platform for a record, preferring the record's
// own platform field over the batch-level hint. Chunked provider data
// frequently mislabels platform at the batch level but is reliable per record.
func (c *CreatorRecord) ResolvePlatform(hint string) string {
	if c.Platform != "" {
		return strings.ToLower(c.Platform)
	}
	return strings.ToLower(hint)
}

// CanonicalKey derives the deduplication key for a record. Records with no
// resolvable handle or external ID return ok=false and must fall back to a
// positional key chosen by the caller.
func (c *CreatorRecord) CanonicalKey(platformHint string) (string, bool) {
	id := c.Handle
	if id == "" {
		id = c.ExternalID
	}
	if strings.TrimSpace(id) == "" {
		return "", false
	}
	return c.ResolvePlatform(platformHint) + "::" + NormalizeHandle(id), true
}

// PositionalKey builds the fallback key for a record without identity.
func PositionalKey(index int) string {
	return fmt.Sprintf("creator-%d", index)
}
