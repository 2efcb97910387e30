package auth

import (
	"context"
	"fmt"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// CasdoorVerifier accepts tokens issued by a Casdoor application.
type CasdoorVerifier struct {
	client *casdoorsdk.Client
}

func NewCasdoorVerifier(cfg *config.Config) *CasdoorVerifier {
	client := casdoorsdk.NewClient(
		cfg.CasdoorEndpoint,
		cfg.CasdoorClientID,
		cfg.CasdoorClientSecret,
		cfg.CasdoorCertificate,
		cfg.CasdoorOrganization,
		cfg.CasdoorApplication,
	)
	return &CasdoorVerifier{client: client}
}

func (v *CasdoorVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	cc, err := v.client.ParseJwtToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromCasdoor(cc)
}

func claimsFromCasdoor(cc *casdoorsdk.Claims) (*Claims, error) {
	userID := cc.User.Id
	if userID == "" {
		userID = cc.User.Name
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: token has no user", ErrInvalidToken)
	}

	role := model.ParseRole(cc.User.Type)
	if cc.User.IsAdmin {
		role = model.RoleAdmin
	}

	c := &Claims{
		UserID:      userID,
		Role:        role,
		Permissions: model.PermissionsFor(role),
	}
	c.Subject = userID
	return c, nil
}
