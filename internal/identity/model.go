package identity

import (
	"strings"
	"time"
)

// Role is the closed set of account roles. Admin is a strict superset of
// client: every gate in the system lets admins through first.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

func ParseRole(value string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(value))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleClient:
		return RoleClient, true
	default:
		return "", false
	}
}

// Package is the subscription tier gating upload and API ceilings.
type Package string

const (
	PackageGrowth     Package = "growth"
	PackageScale      Package = "scale"
	PackageEnterprise Package = "enterprise"
	PackageAdmin      Package = "admin"
)

func ParsePackage(value string) (Package, bool) {
	switch Package(strings.TrimSpace(strings.ToLower(value))) {
	case PackageGrowth:
		return PackageGrowth, true
	case PackageScale:
		return PackageScale, true
	case PackageEnterprise:
		return PackageEnterprise, true
	case PackageAdmin:
		return PackageAdmin, true
	default:
		return "", false
	}
}

type Permission string

const (
	PermissionAdmin  Permission = "admin"
	PermissionClient Permission = "client"
)

// PermissionsFor derives the capability set once, at user creation.
func PermissionsFor(role Role) []Permission {
	if role == RoleAdmin {
		return []Permission{PermissionAdmin, PermissionClient}
	}
	return []Permission{PermissionClient}
}

// User is the public view of an account. The password hash never leaves
// the store.
type User struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Name        string       `json:"name,omitempty"`
	CompanyName string       `json:"companyName,omitempty"`
	Role        Role         `json:"role"`
	Package     Package      `json:"packageType"`
	Permissions []Permission `json:"permissions"`
	Active      bool         `json:"isActive"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastLogin   *time.Time   `json:"lastLogin,omitempty"`
}

func (u User) HasPermission(p Permission) bool {
	for _, have := range u.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// NewUser is the input for account creation. Role and Package default to
// client/growth when empty.
type NewUser struct {
	Email       string
	Password    string
	Name        string
	CompanyName string
	Role        Role
	Package     Package
}

// NormalizeEmail is the canonical form used as the store key.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
