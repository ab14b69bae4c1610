package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const ticketAudience = "telehealth-signal"

// TicketClaims bind one user to one peer id in one telehealth room.
type TicketClaims struct {
	jwt.RegisteredClaims
	ClinicID string `json:"clinic_id"`
	RoomID   string `json:"room_id"`
	PeerID   string `json:"peer_id"`
}

// IssueTicket signs a short-lived signaling join ticket.
func IssueTicket(cfg JWTConfig, userID, clinicID, roomID, peerID string, ttl time.Duration) (string, time.Time, error) {
	if roomID == "" || peerID == "" {
		return "", time.Time{}, errors.New("room and peer are required")
	}
	now := time.Now()
	expires := now.Add(ttl)
	claims := TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{ticketAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		ClinicID: clinicID,
		RoomID:   roomID,
		PeerID:   peerID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign ticket: %w", err)
	}
	return signed, expires, nil
}

// ParseTicket validates a join ticket. Staff tokens are rejected because
// they carry a different audience.
func ParseTicket(cfg JWTConfig, ticket string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(ticketAudience),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(ticket, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.RoomID == "" || claims.PeerID == "" {
		return nil, errors.New("invalid ticket")
	}
	return claims, nil
}
