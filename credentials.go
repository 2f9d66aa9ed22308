package ftpfs

import (
	"log/slog"

	"github.com/gonzalop/ftpfs/store"
)

// CredentialSource records where a Credentials value came from.
type CredentialSource int

const (
	// SourceNone marks a location without user information.
	SourceNone CredentialSource = iota
	// SourceURL marks credentials written in the location.
	SourceURL
	// SourceBlankPassword marks a user given without a password; the
	// password sent is empty.
	SourceBlankPassword
	// SourceAnonymous marks the anonymous/anonymous@ fallback.
	SourceAnonymous
	// SourceBookmark marks credentials taken from a matching bookmark.
	SourceBookmark
)

func (s CredentialSource) String() string {
	switch s {
	case SourceURL:
		return "url"
	case SourceBlankPassword:
		return "blank-password"
	case SourceAnonymous:
		return "anonymous"
	case SourceBookmark:
		return "bookmark"
	default:
		return "none"
	}
}

const (
	anonymousUser     = "anonymous"
	anonymousPassword = "anonymous@"
)

// Credentials are the percent-decoded user and password of a location.
// The password is only ever sent to the server at login; String and
// LogValue redact it.
type Credentials struct {
	User        string
	Password    string
	HasUser     bool
	HasPassword bool
	Source      CredentialSource
}

func (c Credentials) String() string {
	if !c.HasUser {
		return "<none>"
	}
	if c.HasPassword {
		return c.User + ":*****"
	}
	return c.User
}

// LogValue implements slog.LogValuer.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", c.User),
		slog.Bool("password", c.HasPassword),
		slog.String("source", c.Source.String()),
	)
}

// Resolve decides the login for ref from the location alone. Explicit user
// and password are used verbatim; a user without a password gets a blank
// password flagged SourceBlankPassword; no user means anonymous login.
func Resolve(ref LocationRef) Credentials {
	c := ref.Credentials
	switch {
	case c.HasUser && c.HasPassword:
		c.Source = SourceURL
		return c
	case c.HasUser:
		return Credentials{
			User:        c.User,
			HasUser:     true,
			HasPassword: true,
			Source:      SourceBlankPassword,
		}
	default:
		return Credentials{
			User:        anonymousUser,
			Password:    anonymousPassword,
			HasUser:     true,
			HasPassword: true,
			Source:      SourceAnonymous,
		}
	}
}

// BookmarkLister is the part of a bookmark store the resolver needs.
type BookmarkLister interface {
	List() ([]store.Bookmark, error)
}

// Resolver resolves credentials with bookmark context: a location without
// a password borrows the password of a bookmark with the same connection
// key.
type Resolver struct {
	Bookmarks BookmarkLister
}

// Resolve returns the login for ref.
func (r *Resolver) Resolve(ref LocationRef) (Credentials, error) {
	if ref.Credentials.HasPassword || r == nil || r.Bookmarks == nil {
		return Resolve(ref), nil
	}

	bookmarks, err := r.Bookmarks.List()
	if err != nil {
		return Credentials{}, err
	}
	for _, bm := range bookmarks {
		bref, err := Parse(bm.URL)
		if err != nil || bref.Key != ref.Key || !bref.Credentials.HasPassword {
			continue
		}
		c := bref.Credentials
		c.Source = SourceBookmark
		return c, nil
	}

	return Resolve(ref), nil
}
