package admission

import (
	"net/http"
	"strings"
	"time"

	"github.com/223-Media/223media-website/internal/identity"
)

// Class is the limiter category a request falls into. Every request maps
// to exactly one class.
type Class string

const (
	ClassPublic  Class = "public"
	ClassGlobal  Class = "global"
	ClassAuth    Class = "auth"
	ClassUpload  Class = "upload"
	ClassClient  Class = "client"
	ClassAdmin   Class = "admin"
	ClassWebhook Class = "webhook"
)

// Policy is the fixed window and ceiling for a class. Max is the ceiling
// for callers without a package tier; package-scaled classes override it
// per identity.
type Policy struct {
	Window  time.Duration
	Max     int
	Message string
}

func defaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassGlobal:  {Window: 15 * time.Minute, Max: 100, Message: "Too many requests from this IP, please try again later."},
		ClassAuth:    {Window: 15 * time.Minute, Max: 10, Message: "Too many login attempts, please try again later."},
		ClassUpload:  {Window: time.Hour, Max: 50, Message: "Upload limit exceeded, please try again later."},
		ClassAdmin:   {Window: 15 * time.Minute, Max: 300, Message: "Admin rate limit exceeded."},
		ClassClient:  {Window: 15 * time.Minute, Max: 150, Message: "Client portal rate limit exceeded."},
		ClassPublic:  {Window: 15 * time.Minute, Max: 200, Message: "Too many requests, please try again later."},
		ClassWebhook: {Window: 5 * time.Minute, Max: 100, Message: "Webhook rate limit exceeded."},
	}
}

// packageCeiling holds the per-tier upload and API-call ceilings.
type packageCeiling struct {
	Uploads  int
	APICalls int
}

var packageCeilings = map[identity.Package]packageCeiling{
	identity.PackageGrowth:     {Uploads: 20, APICalls: 100},
	identity.PackageScale:      {Uploads: 40, APICalls: 200},
	identity.PackageEnterprise: {Uploads: 100, APICalls: 500},
	identity.PackageAdmin:      {Uploads: 1000, APICalls: 1000},
}

const (
	anonymousUploadMax = 5
	anonymousAPIMax    = 50
)

// Classify assigns the limiter class for a request. More specific path
// prefixes are checked before generic fallbacks, and CORS preflights are
// exempt (second return false).
func Classify(method, path string) (Class, bool) {
	if method == http.MethodOptions {
		return "", false
	}

	switch {
	case strings.HasPrefix(path, "/api/admin/"):
		return ClassAdmin, true
	case strings.HasPrefix(path, "/api/client/"):
		return ClassClient, true
	case strings.Contains(path, "/upload"):
		return ClassUpload, true
	case strings.Contains(path, "/login") || strings.Contains(path, "/auth"):
		return ClassAuth, true
	case strings.HasPrefix(path, "/api/webhook/"):
		return ClassWebhook, true
	case strings.HasPrefix(path, "/api/"):
		return ClassGlobal, true
	default:
		return ClassPublic, true
	}
}

// keyFor derives the counter key. Authenticated callers are keyed by user
// and source so neither dimension alone can exhaust another caller's
// budget; package-scaled classes fold the tier in as well.
func keyFor(class Class, user *identity.User, ip string) string {
	switch class {
	case ClassUpload, ClassClient:
		if user != nil {
			return string(user.Package) + ":" + user.ID + ":" + ip
		}
		return "free:" + ip
	case ClassAdmin:
		if user != nil {
			return string(user.Role) + ":" + user.ID + ":" + ip
		}
		return ip
	default:
		if user != nil {
			return user.ID + ":" + ip
		}
		return ip
	}
}

// maxFor resolves the ceiling for a class, scaling by package tier where
// the class is package-sensitive.
func maxFor(class Class, policy Policy, user *identity.User) int {
	switch class {
	case ClassUpload:
		if user == nil {
			return anonymousUploadMax
		}
		if ceiling, ok := packageCeilings[user.Package]; ok {
			return ceiling.Uploads
		}
		return packageCeilings[identity.PackageGrowth].Uploads
	case ClassClient:
		if user == nil {
			return anonymousAPIMax
		}
		if ceiling, ok := packageCeilings[user.Package]; ok {
			return ceiling.APICalls
		}
		return packageCeilings[identity.PackageGrowth].APICalls
	default:
		return policy.Max
	}
}
