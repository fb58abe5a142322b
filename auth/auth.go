package auth

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// ErrTooManyAttempts is returned when a client IP already has a login in
// flight. One attempt at a time per address keeps brute forcing slow.
var ErrTooManyAttempts = errors.New("too many login attempts")

// ErrInvalidCredentials covers unknown users and wrong passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

const sessionTTL = 24 * time.Hour

// AuthModule owns users, sessions and API tokens. Users live in the store,
// sessions in redis, API tokens are self-contained JWTs.
type AuthModule struct {
	store     store.KV
	redis     *redis.Client
	history   *history.History
	JWTSecret string

	mu      sync.Mutex
	pending map[string]struct{} // client IPs with a login in flight
}

// NewAuthModule creates the auth module.
func NewAuthModule(kv store.KV, rdb *redis.Client, hist *history.History, jwtSecret string) *AuthModule {
	return &AuthModule{
		store:     kv,
		redis:     rdb,
		history:   hist,
		JWTSecret: jwtSecret,
		pending:   map[string]struct{}{},
	}
}

// CreateUser stores a new user with a bcrypt password hash.
func (a *AuthModule) CreateUser(ctx context.Context, user models.User, password string) error {
	if user.Username == "" || password == "" {
		return errors.New("username and password are required")
	}
	if found, err := a.store.Get(ctx, []string{"users", user.Username}, nil); err != nil {
		return err
	} else if found {
		return errors.New("username already exists")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hashed)
	return a.store.Set(ctx, []string{"users", user.Username}, user)
}

// Login verifies credentials and opens a session. Every attempt pays a fixed
// delay and each client IP may only have one attempt in flight, answered with
// ErrTooManyAttempts otherwise.
func (a *AuthModule) Login(ctx context.Context, username, password, clientIP string) (string, error) {
	a.mu.Lock()
	if _, busy := a.pending[clientIP]; busy {
		a.mu.Unlock()
		return "", ErrTooManyAttempts
	}
	a.pending[clientIP] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, clientIP)
		a.mu.Unlock()
	}()

	delay := 2*time.Second + time.Duration(rand.Intn(1000))*time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var user models.User
	found, err := a.store.Get(ctx, []string{"users", username}, &user)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := a.redis.Set(ctx, "session:"+token, username, sessionTTL).Err(); err != nil {
		return "", err
	}
	user.Logged = models.Stamp(time.Now())
	if err := a.store.Set(ctx, []string{"users", username}, user); err != nil {
		log.Printf("AUTH: failed to stamp login for %s: %v", username, err)
	}
	a.history.Push(ctx, username, "login", map[string]any{"ip": clientIP})
	return token, nil
}

// Session resolves a session token to its user, sliding the expiry.
func (a *AuthModule) Session(ctx context.Context, token string) (models.User, error) {
	username, err := a.redis.Get(ctx, "session:"+token).Result()
	if err == redis.Nil {
		return models.User{}, ErrInvalidCredentials
	} else if err != nil {
		return models.User{}, err
	}
	ttl, err := a.redis.TTL(ctx, "session:"+token).Result()
	if err == nil && ttl < 20*time.Hour {
		if err := a.redis.Expire(ctx, "session:"+token, sessionTTL).Err(); err != nil {
			log.Printf("AUTH: failed to extend session: %v", err)
		}
	}
	var user models.User
	found, err := a.store.Get(ctx, []string{"users", username}, &user)
	if err != nil {
		return models.User{}, err
	}
	if !found {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Logout drops a session.
func (a *AuthModule) Logout(ctx context.Context, token string) error {
	return a.redis.Del(ctx, "session:"+token).Err()
}

// ChangePassword rehashes after verifying the old password.
func (a *AuthModule) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	var user models.User
	found, err := a.store.Get(ctx, []string{"users", username}, &user)
	if err != nil {
		return err
	}
	if !found {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hashed)
	return a.store.Set(ctx, []string{"users", username}, user)
}

// GenerateJWT issues a self-contained API token for a user.
func (a *AuthModule) GenerateJWT(username string) (string, error) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
		"iat":      time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

// ValidateJWT resolves an API token to its user.
func (a *AuthModule) ValidateJWT(ctx context.Context, token string) (models.User, error) {
	parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return models.User{}, ErrInvalidCredentials
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	username, ok := claims["username"].(string)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	var user models.User
	found, err := a.store.Get(ctx, []string{"users", username}, &user)
	if err != nil {
		return models.User{}, err
	}
	if !found {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}
