package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Vasu1712/scenyx-hub/internal/models"
)

var (
	ErrInvalidToken  = errors.New("invalid-token")
	ErrTokenExpired  = errors.New("token-expired")
	ErrUserMismatch  = errors.New("token belongs to a different user")
	ErrRoomMismatch  = errors.New("token was issued for a different room")
	ErrMissingSecret = errors.New("shared secret is empty")
)

// Permission bits of the document-store share model.
const (
	PermissionRead   = 1
	PermissionUpdate = 2
	PermissionCreate = 4
	PermissionDelete = 8
	PermissionShare  = 16
)

// DocumentID accepts both numeric and string file ids.
type DocumentID string

func (d *DocumentID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = DocumentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("fileId: %w", err)
	}
	*d = DocumentID(n.String())
	return nil
}

// Claims is the payload of the bearer token minted by the document store.
type Claims struct {
	UserID      string      `json:"userid"`
	FileID      DocumentID  `json:"fileId"`
	Permissions int         `json:"permissions"`
	User        models.User `json:"user"`
	jwt.RegisteredClaims
}

// ReadOnly is derived from the permission bit-field on every verification.
func (c *Claims) ReadOnly() bool {
	return c.Permissions&PermissionUpdate == 0
}

// Expiry returns the exp claim, or the zero time if absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Verifier checks tokens signed with the shared secret.
type Verifier struct {
	secret       []byte
	recordingTTL time.Duration
	now          func() time.Time
}

// NewVerifier returns a Verifier. recordingTTL bounds recording-agent tokens.
func NewVerifier(secret string, recordingTTL time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if recordingTTL <= 0 {
		recordingTTL = 24 * time.Hour
	}
	return &Verifier{secret: []byte(secret), recordingTTL: recordingTTL, now: time.Now}, nil
}

// SetClock overrides the time source used for recording tokens and expiry checks.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// Now is the verifier's clock.
func (v *Verifier) Now() time.Time { return v.now() }

// Verify checks signature, expiry and claim shape. The error is ErrTokenExpired
// or ErrInvalidToken, wrapping the parser's reason.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.FileID == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing userid, fileId or exp", ErrInvalidToken)
	}
	if claims.User.ID == "" {
		claims.User.ID = claims.UserID
	}
	if claims.User.Name == "" {
		claims.User.Name = claims.UserID
	}
	return claims, nil
}

// Reverify validates a refreshed token for a socket already bound to userID.
// A refresh never changes who the socket belongs to.
func (v *Verifier) Reverify(token, userID string) (*Claims, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.UserID != userID {
		return nil, ErrUserMismatch
	}
	return claims, nil
}

// Sign mints a token. The hub never issues tokens in production; this exists
// for tests and local tooling that stand in for the document store.
func (v *Verifier) Sign(c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// NewClaims builds claims valid for ttl from now.
func NewClaims(userID, fileID, name string, permissions int, now time.Time, ttl time.Duration) Claims {
	return Claims{
		UserID:      userID,
		FileID:      DocumentID(fileID),
		Permissions: permissions,
		User:        models.User{ID: userID, Name: name},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func formatMillis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }
