// Package auth holds the static admin allow-list and the optional shared API
// token. There are no accounts or passwords; callers are identified by their
// chat user ID.
package auth

import (
	"crypto/subtle"
	"strings"
)

type AllowList struct {
	admins map[string]struct{}
	token  string
}

func NewAllowList(adminIDs []string, apiToken string) *AllowList {
	a := &AllowList{
		admins: make(map[string]struct{}, len(adminIDs)),
		token:  strings.TrimSpace(apiToken),
	}
	for _, id := range adminIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			a.admins[id] = struct{}{}
		}
	}
	return a
}

func (a *AllowList) IsAdmin(userID string) bool {
	if a == nil {
		return false
	}
	_, ok := a.admins[strings.TrimSpace(userID)]
	return ok
}

// TokenRequired reports whether API callers must present the shared token.
func (a *AllowList) TokenRequired() bool {
	return a != nil && a.token != ""
}

// VerifyToken accepts any token when none is configured.
func (a *AllowList) VerifyToken(token string) bool {
	if !a.TokenRequired() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.token)) == 1
}

func (a *AllowList) Admins() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.admins))
	for id := range a.admins {
		out = append(out, id)
	}
	return out
}
