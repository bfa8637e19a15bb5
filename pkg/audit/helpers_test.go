package audit

import (
	"testing"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name string
		path string
		want requestTarget
	}{
		{
			name: "passport collection",
			path: "/api/v1/passports",
			want: requestTarget{EntityType: passport.EntityPassport},
		},
		{
			name: "passport by ID",
			path: "/api/v1/passports/12",
			want: requestTarget{EntityType: passport.EntityPassport, EntityID: 12, PassportID: 12},
		},
		{
			name: "passport status change",
			path: "/api/v1/passports/12/status",
			want: requestTarget{EntityType: passport.EntityPassport, EntityID: 12, PassportID: 12},
		},
		{
			name: "statuses of passport",
			path: "/api/v1/passports/12/statuses",
			want: requestTarget{EntityType: passport.EntityStatus, PassportID: 12},
		},
		{
			name: "status by ID",
			path: "/api/v1/statuses/7",
			want: requestTarget{EntityType: passport.EntityStatus, EntityID: 7},
		},
		{
			name: "transition by ID",
			path: "/api/v1/transitions/3/",
			want: requestTarget{EntityType: passport.EntityTransition, EntityID: 3},
		},
		{
			name: "version of passport",
			path: "/api/v1/passports/12/versions/4",
			want: requestTarget{EntityType: passport.EntityVersion, EntityID: 4, PassportID: 12},
		},
		{
			name: "non-numeric ID",
			path: "/api/v1/passports/abc",
			want: requestTarget{EntityType: passport.EntityPassport},
		},
		{
			name: "unrelated path",
			path: "/healthz",
			want: requestTarget{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTarget(tt.path); got != tt.want {
				t.Errorf("parseTarget(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestExtractActionVerb(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"POST", "/api/v1/passports", "create"},
		{"POST", "/api/v1/passports/1/status", "change-status"},
		{"POST", "/api/v1/passports/1/statuses", "create"},
		{"PATCH", "/api/v1/statuses/1", "patch"},
		{"PUT", "/api/v1/passports/1", "update"},
		{"DELETE", "/api/v1/transitions/1", "delete"},
		{"GET", "/api/v1/passports", "get"},
	}

	for _, tt := range tests {
		if got := extractActionVerb(tt.method, tt.path); got != tt.want {
			t.Errorf("extractActionVerb(%s, %s) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestIsAuditedRequest(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{"POST", "/api/v1/passports", true},
		{"PATCH", "/api/v1/statuses/1", true},
		{"DELETE", "/api/v1/transitions/1", true},
		{"GET", "/api/v1/passports", false},
		{"GET", "/healthz", false},
		{"POST", "/livez", false},
		{"GET", "/metrics", false},
	}

	for _, tt := range tests {
		if got := isAuditedRequest(tt.method, tt.path); got != tt.want {
			t.Errorf("isAuditedRequest(%s, %s) = %v, want %v", tt.method, tt.path, got, tt.want)
		}
	}
}
