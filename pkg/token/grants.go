package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Grants is the room-access grant embedded in an issued token. The token
// server signs LiveKit-style JWTs whose "video" claim carries room access.
type Grants struct {
	Identity       string
	Name           string
	Room           string
	RoomJoin       bool
	CanPublish     bool
	CanPublishData bool
	CanSubscribe   bool
	ExpiresAt      time.Time
}

type grantClaims struct {
	Name  string      `json:"name"`
	Video videoGrants `json:"video"`
	jwt.RegisteredClaims
}

type videoGrants struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     *bool  `json:"canPublish"`
	CanPublishData *bool  `json:"canPublishData"`
	CanSubscribe   *bool  `json:"canSubscribe"`
}

// ParseGrants decodes the grant claims without verifying the signature.
// Verification is the room server's job; the client only inspects the
// grants to fail fast on obviously wrong credentials.
func ParseGrants(tokenString string) (*Grants, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(tokenString, &grantClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	claims, ok := parsed.Claims.(*grantClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected access token claims")
	}

	grants := &Grants{
		Identity:       claims.Subject,
		Name:           claims.Name,
		Room:           claims.Video.Room,
		RoomJoin:       claims.Video.RoomJoin,
		CanPublish:     claims.Video.CanPublish == nil || *claims.Video.CanPublish,
		CanPublishData: claims.Video.CanPublishData == nil || *claims.Video.CanPublishData,
		CanSubscribe:   claims.Video.CanSubscribe == nil || *claims.Video.CanSubscribe,
	}
	if claims.ExpiresAt != nil {
		grants.ExpiresAt = claims.ExpiresAt.Time
	}
	return grants, nil
}
