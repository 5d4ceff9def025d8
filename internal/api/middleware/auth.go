// auth.go — аутентификация операторов ledger по JWT (RS256, ключи из JWKS)
// и проверка scopes ledger:read / ledger:write / ledger:admin.
// Клиенты API аутентифицируются ключом X-API-Key и сюда не попадают.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/feedback-ledger/internal/api/errors"
)

// Scopes, проверяемые маршрутами API.
const (
	ScopeRead  = "ledger:read"
	ScopeWrite = "ledger:write"
	// ScopeAdmin удовлетворяет любому требуемому scope
	ScopeAdmin = "ledger:admin"
)

// Claims — JWT claims identity provider. Scopes принимаются в двух
// форматах: "scope" (строка через пробел, Keycloak) и "scopes" (массив).
type Claims struct {
	jwt.RegisteredClaims
	ScopeString       string   `json:"scope"`
	ScopeArray        []string `json:"scopes"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
}

// Scopes возвращает scopes из обоих форматов без повторов.
func (c *Claims) Scopes() []string {
	seen := make(map[string]bool)
	var result []string
	for _, s := range append(strings.Fields(c.ScopeString), c.ScopeArray...) {
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// Identity — аутентифицированный вызывающий.
type Identity struct {
	Subject  string
	Username string
	Scopes   []string
}

// Name — имя для журнала аудита: preferred_username, иначе sub.
func (id Identity) Name() string {
	if id.Username != "" {
		return id.Username
	}
	return id.Subject
}

// HasScope проверяет scope с учётом ledger:admin.
func (id Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity помещает Identity в контекст запроса.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext извлекает Identity; false — запрос не аутентифицирован.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// UserFromContext возвращает имя вызывающего или пустую строку.
func UserFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Name()
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// DefaultJWTLeeway — допустимое отклонение часов при проверке exp/nbf.
const DefaultJWTLeeway = 5 * time.Second

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	if authCfg.ClientTimeout <= 0 {
		authCfg.ClientTimeout = 10 * time.Second
	}
	if authCfg.RefreshInterval <= 0 {
		authCfg.RefreshInterval = 15 * time.Minute
	}
	if authCfg.JWTLeeway <= 0 {
		authCfg.JWTLeeway = DefaultJWTLeeway
	}

	// NoErrorReturnFirstHTTPReq позволяет стартовать даже если JWKS endpoint
	// ещё недоступен (например, при одновременном запуске pod-ов).
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: authCfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		jwtLeeway: authCfg.JWTLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: DefaultJWTLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware проверяет Bearer token (RS256, обязательный exp) и помещает
// Identity в контекст запроса. Любая ошибка — 401.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, problem := bearerToken(r)
			if problem != "" {
				apierrors.Unauthorized(w, problem)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()),
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			)
			if err != nil || !token.Valid {
				if err != nil {
					j.logger.Debug("JWT валидация не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				Subject:  subject,
				Username: claims.PreferredUsername,
				Scopes:   claims.Scopes(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из Authorization. Вторая строка —
// описание проблемы для ответа 401.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// RequireScope пропускает запрос, если у вызывающего есть scope
// (или ledger:admin), иначе 403. Ставится после JWTAuth.Middleware().
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				apierrors.Forbidden(w, "Отсутствуют scopes в токене")
				return
			}
			if !id.HasScope(scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
