package admission

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   Class
	}{
		{http.MethodGet, "/api/admin/users", ClassAdmin},
		{http.MethodGet, "/api/client/episodes", ClassClient},
		{http.MethodPost, "/api/client/files/upload", ClassClient}, // prefix wins over upload marker
		{http.MethodPost, "/api/files/upload", ClassUpload},
		{http.MethodPost, "/api/auth/login", ClassAuth},
		{http.MethodPost, "/api/auth/refresh", ClassAuth},
		{http.MethodPost, "/api/webhook/stripe", ClassWebhook},
		{http.MethodGet, "/api/reports", ClassGlobal},
		{http.MethodGet, "/", ClassPublic},
		{http.MethodGet, "/pricing", ClassPublic},
	}

	for _, tt := range tests {
		class, limited := Classify(tt.method, tt.path)
		require.True(t, limited, "path %s should be limited", tt.path)
		require.Equal(t, tt.want, class, "path %s", tt.path)
	}
}

func TestClassifySkipsPreflight(t *testing.T) {
	_, limited := Classify(http.MethodOptions, "/api/auth/login")
	require.False(t, limited)
}
