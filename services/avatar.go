package services

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cppla/engage/config"
)

// Author is what a resolver knows about a comment's author.
type Author struct {
	UserID    uint
	Username  string
	Name      string
	Email     string
	AvatarURL string
}

// AvatarResolver maps an author to avatar and profile URLs; either may be empty.
type AvatarResolver interface {
	Resolve(a Author) (avatarURL, profileURL string)
}

// NoAvatars resolves nothing.
type NoAvatars struct{}

func (NoAvatars) Resolve(Author) (string, string) { return "", "" }

// Gravatar derives the avatar from the md5 of the normalized email.
type Gravatar struct {
	Size    int
	Default string
	// ProfileURLFormat receives the account username; guests get no profile.
	ProfileURLFormat string
}

func GravatarHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func (g Gravatar) Resolve(a Author) (string, string) {
	q := url.Values{}
	if g.Size > 0 {
		q.Set("s", strconv.Itoa(g.Size))
	}
	if g.Default != "" {
		q.Set("d", g.Default)
	}
	avatar := "https://www.gravatar.com/avatar/" + GravatarHash(a.Email)
	if enc := q.Encode(); enc != "" {
		avatar += "?" + enc
	}
	return avatar, profileURL(g.ProfileURLFormat, a)
}

func profileURL(format string, a Author) string {
	if format == "" || a.UserID == 0 || a.Username == "" {
		return ""
	}
	return fmt.Sprintf(format, url.PathEscape(a.Username))
}

// AccountAvatars prefers the avatar stored on the account and falls back to Next.
type AccountAvatars struct {
	Next AvatarResolver
}

func (r AccountAvatars) Resolve(a Author) (string, string) {
	avatar, profile := r.Next.Resolve(a)
	if a.AvatarURL != "" {
		avatar = a.AvatarURL
	}
	return avatar, profile
}

// NewAvatarResolver builds the resolver chain from configuration.
func NewAvatarResolver(cfg config.AvatarConfig) AvatarResolver {
	if !cfg.Enabled {
		return NoAvatars{}
	}
	return AccountAvatars{Next: Gravatar{Size: cfg.Size, Default: cfg.Default, ProfileURLFormat: cfg.ProfileURLFormat}}
}
