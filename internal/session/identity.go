package session

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/qcom/librarian/internal/models"
)

// Claim names issued by the backend. Nothing outside this file reads raw
// claim keys.
const (
	ClaimSubject     = "sub"
	ClaimUniqueName  = "unique_name"
	ClaimGivenName   = "given_name"
	ClaimFamilyName  = "family_name"
	ClaimEmail       = "email"
	ClaimGender      = "gender"
	ClaimMobilePhone = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/mobilephone"
	ClaimDateOfBirth = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/dateofbirth"
	ClaimLocality    = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/locality"
	ClaimRole        = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

// Project maps decoded claims onto an Identity. Only the subject is
// required; every other attribute degrades to empty.
func Project(claims Claims) (*models.Identity, error) {
	id := claimString(claims[ClaimSubject])
	if id == "" {
		return nil, ErrIncompleteIdentity
	}

	return &models.Identity{
		ID:          id,
		UserName:    claimString(claims[ClaimUniqueName]),
		FirstName:   claimString(claims[ClaimGivenName]),
		LastName:    claimString(claims[ClaimFamilyName]),
		Email:       claimString(claims[ClaimEmail]),
		PhoneNumber: claimString(claims[ClaimMobilePhone]),
		Gender:      claimString(claims[ClaimGender]),
		DateOfBirth: claimString(claims[ClaimDateOfBirth]),
		Address:     claimString(claims[ClaimLocality]),
		Role:        roleClaim(claims[ClaimRole]),
	}, nil
}

// IdentityFromToken decodes token and projects its claims.
func IdentityFromToken(token string) (*models.Identity, error) {
	claims, err := Decode(token)
	if err != nil {
		return nil, err
	}
	identity, err := Project(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to project identity: %w", err)
	}
	return identity, nil
}

func claimString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// roleClaim keeps the raw role value. A multi-valued role claim collapses
// to its highest known level.
func roleClaim(v any) string {
	values, ok := v.([]any)
	if !ok {
		return claimString(v)
	}

	best := models.RoleNone
	raw := ""
	for _, item := range values {
		role, ok := models.ParseRole(item)
		if ok && role > best {
			best = role
			raw = claimString(item)
		}
	}
	return raw
}
