package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyAddress = "wallet_address"
	bearerPrefix      = "Bearer "
)

// TokenValidator verifies HS256 bearer tokens whose subject is a wallet address.
type TokenValidator struct {
	signingKey []byte
	issuer     string
	parser     *jwt.Parser
}

// NewTokenValidator builds a validator for tokens issued by issuer.
func NewTokenValidator(signingKey []byte, issuer string) (*TokenValidator, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("jwt signing key is empty")
	}
	return &TokenValidator{
		signingKey: signingKey,
		issuer:     issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Validate returns the wallet address carried in the token subject.
func (validator *TokenValidator) Validate(rawToken string) (wager.Address, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := validator.parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return validator.signingKey, nil
	})
	if err != nil {
		return wager.Address{}, fmt.Errorf("parse token: %w", err)
	}
	return wager.NewAddress(claims.Subject)
}

// Issue signs a token for address; used by operators and tests.
func (validator *TokenValidator) Issue(address wager.Address, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = address.String()
	claims.Issuer = validator.issuer
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(validator.signingKey)
}

func (validator *TokenValidator) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing bearer token"))
			return
		}
		address, err := validator.Validate(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "invalid token"))
			return
		}
		ctx.Set(contextKeyAddress, address)
		ctx.Next()
	}
}

func callerAddress(ctx *gin.Context) (wager.Address, bool) {
	value, ok := ctx.Get(contextKeyAddress)
	if !ok {
		return wager.Address{}, false
	}
	address, ok := value.(wager.Address)
	return address, ok && !address.IsZero()
}
