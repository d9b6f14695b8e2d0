// Package merge folds newly-arrived creator records into an existing
// canonical, order-stable collection. Chunked deliveries arrive out of
// order, partially and duplicated; the merge keeps one entry per canonical
// key and patches it in place as later sightings add fields.
package merge

import (
	"fmt"
	"strings"

	"github.com/Sanchay-T/influencer-platform/model"
)

// Merge returns the union of existing and incoming creator records keyed by
// canonical identity. First-seen append order is preserved across repeated
// merges so UI list positions stay stable. Later sightings of a known key
// patch the existing entry field by field instead of replacing it.
//
// Merge never mutates its inputs; the returned slice holds copies.
func Merge(existing, incoming []model.CreatorRecord, platformHint string) []model.CreatorRecord {
	out := make([]model.CreatorRecord, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	for i := range existing {
		key, ok := existing[i].CanonicalKey(platformHint)
		if !ok {
			key = model.PositionalKey(i)
		}
		if _, seen := index[key]; seen {
			// Existing collection already canonical in practice; keep the
			// first occurrence and fold the rest into it.
			patch(&out[index[key]], &existing[i])
			continue
		}
		index[key] = len(out)
		out = append(out, clone(&existing[i]))
	}

	for i := range incoming {
		rec := &incoming[i]
		key, ok := rec.CanonicalKey(platformHint)
		if !ok {
			key = fallbackKey(index, i)
		}
		if at, seen := index[key]; seen {
			patch(&out[at], rec)
			continue
		}
		index[key] = len(out)
		out = append(out, clone(rec))
	}

	return out
}

// fallbackKey returns the positional key for an identity-less incoming
// record, suffixing on collision so the collection at least stays distinct.
func fallbackKey(index map[string]int, incomingIdx int) string {
	base := model.PositionalKey(incomingIdx)
	if _, taken := index[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, taken := index[candidate]; !taken {
			return candidate
		}
	}
}

// patch applies non-empty fields of src onto dst without discarding
// previously-known fields absent from the new sighting.
func patch(dst, src *model.CreatorRecord) {
	if src.Handle != "" {
		dst.Handle = src.Handle
	}
	if src.ExternalID != "" {
		dst.ExternalID = src.ExternalID
	}
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if src.Platform != "" {
		dst.Platform = src.Platform
	}
	if src.AvatarURL != "" {
		dst.AvatarURL = src.AvatarURL
	}
	if src.Followers > 0 {
		dst.Followers = src.Followers
	}
	dst.Emails = unionEmails(dst.Emails, src.Emails)
	if src.Bio != nil {
		if dst.Bio == nil {
			b := *src.Bio
			dst.Bio = &b
		} else {
			patchBio(dst.Bio, src.Bio)
		}
	}
	if len(src.Metadata) > 0 {
		if dst.Metadata == nil {
			dst.Metadata = make(map[string]interface{}, len(src.Metadata))
		}
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
}

func patchBio(dst, src *model.BioEnrichment) {
	if src.Text != "" {
		dst.Text = src.Text
	}
	if len(src.Links) > 0 {
		dst.Links = unionStrings(dst.Links, src.Links, false)
	}
	if src.Location != "" {
		dst.Location = src.Location
	}
	if src.Category != "" {
		dst.Category = src.Category
	}
}

// unionEmails unions email lists as a case-insensitive set, keeping the
// first-seen spelling and order.
func unionEmails(have, add []string) []string {
	return unionStrings(have, add, true)
}

func unionStrings(have, add []string, foldCase bool) []string {
	if len(add) == 0 {
		return have
	}
	seen := make(map[string]bool, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, lst := range [][]string{have, add} {
		for _, s := range lst {
			if strings.TrimSpace(s) == "" {
				continue
			}
			k := s
			if foldCase {
				k = strings.ToLower(s)
			}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

func clone(src *model.CreatorRecord) model.CreatorRecord {
	dst := *src
	if len(src.Emails) > 0 {
		dst.Emails = append([]string(nil), src.Emails...)
	}
	if src.Bio != nil {
		b := *src.Bio
		if len(src.Bio.Links) > 0 {
			b.Links = append([]string(nil), src.Bio.Links...)
		}
		dst.Bio = &b
	}
	if len(src.Metadata) > 0 {
		dst.Metadata = make(map[string]interface{}, len(src.Metadata))
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
	return dst
}
