package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/auth"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
)

func TestTokenService(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantNil bool
		wantErr bool
	}{
		{name: "unset disables ingestion", secret: "", wantNil: true},
		{name: "short secret", secret: "hunter2", wantNil: true, wantErr: true},
		{name: "configured", secret: strings.Repeat("k", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("auth.jwt_secret", tt.secret)
			v.Set("auth.issuer", "azwatch")
			v.Set("auth.token_ttl", time.Hour)

			tokens, err := tokenService(v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, azerr.ErrConfiguration) {
				t.Errorf("err = %v, want configuration error", err)
			}
			if (tokens == nil) != tt.wantNil {
				t.Fatalf("tokens = %v, wantNil %v", tokens, tt.wantNil)
			}
			if tokens == nil {
				return
			}
			tok, err := tokens.Issue("collector", 0, auth.ScopeIngest)
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			if _, err := tokens.Validate(tok); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}
