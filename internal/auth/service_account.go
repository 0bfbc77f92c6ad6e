package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceAccountType is the only accepted value of the "type" field.
const ServiceAccountType = "service_account"

// ServiceAccountCredentials is the JSON credentials artifact. Assertion is
// an HS256 JWT signed with Secret whose "kid" header is KeyID and whose
// subject is ClientID.
type ServiceAccountCredentials struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id"`
	KeyID     string `json:"key_id"`
	Secret    string `json:"secret"`
	Assertion string `json:"assertion"`
}

// NewServiceAccountCredentials builds a signed credentials artifact.
func NewServiceAccountCredentials(clientID, keyID, secret string) (ServiceAccountCredentials, error) {
	if clientID == "" || keyID == "" || secret == "" {
		return ServiceAccountCredentials{}, fmt.Errorf("%w: client_id, key_id and secret are required", ErrValidation)
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  clientID,
		Issuer:   clientID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	})
	t.Header["kid"] = keyID
	assertion, err := t.SignedString([]byte(secret))
	if err != nil {
		return ServiceAccountCredentials{}, fmt.Errorf("sign assertion: %w", err)
	}
	return ServiceAccountCredentials{
		Type:      ServiceAccountType,
		ClientID:  clientID,
		KeyID:     keyID,
		Secret:    secret,
		Assertion: assertion,
	}, nil
}

// WriteFile stores the credentials as JSON readable only by the owner.
func (c ServiceAccountCredentials) WriteFile(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// LoadServiceAccountCredentials reads and structurally validates a
// credentials file. It does not check the assertion signature.
func LoadServiceAccountCredentials(path string) (ServiceAccountCredentials, error) {
	if path == "" {
		return ServiceAccountCredentials{}, fmt.Errorf("%w: credentials file path required", ErrValidation)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccountCredentials{}, fmt.Errorf("%w: read credentials file: %v", ErrValidation, err)
	}
	return ParseServiceAccountCredentials(b)
}

// ParseServiceAccountCredentials decodes and structurally validates the
// JSON credentials artifact.
func ParseServiceAccountCredentials(b []byte) (ServiceAccountCredentials, error) {
	var c ServiceAccountCredentials
	if err := json.Unmarshal(b, &c); err != nil {
		return ServiceAccountCredentials{}, fmt.Errorf("%w: parse credentials: %v", ErrValidation, err)
	}
	if err := c.validate(); err != nil {
		return ServiceAccountCredentials{}, err
	}
	return c, nil
}

func (c ServiceAccountCredentials) validate() error {
	switch {
	case c.Type != ServiceAccountType:
		return fmt.Errorf("%w: credentials type must be %q", ErrValidation, ServiceAccountType)
	case c.ClientID == "", c.KeyID == "", c.Secret == "", c.Assertion == "":
		return fmt.Errorf("%w: credentials are missing required fields", ErrValidation)
	}
	return nil
}

// Verify checks the assertion against the secret in the same artifact. It
// proves the file is internally consistent, not that the key is trusted.
func (c ServiceAccountCredentials) Verify() error {
	_, err := ServiceAccountKeys{c.KeyID: {ClientID: c.ClientID, Secret: c.Secret}}.Authenticate(c.Assertion)
	return err
}

// ServiceAccountKey is the server-side record of a registered key.
type ServiceAccountKey struct {
	ClientID string
	Secret   string
}

// ServiceAccountKeys maps key_id to the registered key.
type ServiceAccountKeys map[string]ServiceAccountKey

// Register records the key described by creds.
func (k ServiceAccountKeys) Register(creds ServiceAccountCredentials) error {
	if err := creds.validate(); err != nil {
		return err
	}
	k[creds.KeyID] = ServiceAccountKey{ClientID: creds.ClientID, Secret: creds.Secret}
	return nil
}

// Authenticate verifies an assertion with the registered secret of the key
// named by its "kid" header and returns the client it authenticates.
func (k ServiceAccountKeys) Authenticate(assertion string) (string, error) {
	if assertion == "" {
		return "", fmt.Errorf("%w: assertion required", ErrValidation)
	}
	var (
		claims jwt.RegisteredClaims
		key    ServiceAccountKey
	)
	_, err := jwt.ParseWithClaims(assertion, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		reg, ok := k[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		key = reg
		return []byte(reg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", &AuthenticationError{Reason: "invalid service account assertion", Err: err}
	}
	if claims.Subject != key.ClientID {
		return "", &AuthenticationError{Reason: "assertion subject does not match client_id"}
	}
	return key.ClientID, nil
}
