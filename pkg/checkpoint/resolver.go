// Package checkpoint resolves, once per process, where graph checkpoints are stored.
package checkpoint

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/engine"
)

type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeMemory   Mode = "memory"
	ModePostgres Mode = "postgres"
)

// ParseMode maps a configuration value to a Mode, defaulting to auto.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeMemory:
		return ModeMemory, nil
	case ModePostgres:
		return ModePostgres, nil
	default:
		return "", fmt.Errorf("unsupported checkpoint mode %q", value)
	}
}

// Backend is a durable saver owning a connection.
type Backend interface {
	engine.Saver
	Close() error
}

// Opener connects a durable backend for dsn.
type Opener func(ctx context.Context, dsn string) (Backend, error)

// Health describes the resolved storage for health reporting.
type Health struct {
	Requested  Mode       `json:"requested"`
	Resolved   Mode       `json:"resolved,omitempty"`
	Durable    bool       `json:"durable"`
	Ready      bool       `json:"ready"`
	LastError  string     `json:"lastError,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Resolver memoizes the checkpoint store. The first call to Saver decides the
// mode; every later call returns the same saver, or the same fatal error.
type Resolver struct {
	requested Mode
	dsn       string
	open      Opener
	logger    *slog.Logger

	once    sync.Once
	mu      sync.RWMutex
	saver   engine.Saver
	backend Backend
	mode    Mode
	err     error
	lastErr error
	at      *time.Time
}

func NewResolver(logger *slog.Logger, mode Mode, dsn string, open Opener) *Resolver {
	return &Resolver{
		requested: mode,
		dsn:       dsn,
		open:      open,
		logger:    logger.With("module", "checkpoint"),
	}
}

// Saver returns the process wide checkpoint store.
func (r *Resolver) Saver(ctx context.Context) (engine.Saver, error) {
	r.once.Do(func() {
		r.resolve(ctx)
	})

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.saver, r.err
}

func (r *Resolver) resolve(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	r.at = &now

	if r.requested == ModeMemory || (r.requested != ModePostgres && r.dsn == "") {
		r.useMemory(ctx, "ephemeral checkpoint store selected")

		return
	}

	if r.dsn == "" {
		r.fail(ctx, errors.New("no connection string configured"))

		return
	}

	backend, err := r.connect(ctx)
	if err == nil {
		r.saver = backend
		r.backend = backend
		r.mode = ModePostgres
		r.logger.InfoContext(ctx, "Using durable checkpoint store")

		return
	}

	if r.requested == ModePostgres {
		r.fail(ctx, err)

		return
	}

	r.lastErr = err
	r.useMemory(ctx, "durable checkpoint store unavailable, falling back to memory")
}

func (r *Resolver) connect(ctx context.Context) (Backend, error) {
	if r.open == nil {
		return nil, errors.New("no durable checkpoint opener configured")
	}

	backend, err := r.open(ctx, r.dsn)
	if err == nil || !IsCertificateError(err) {
		return backend, err
	}

	r.logger.WarnContext(ctx, "Certificate verification failed, retrying with relaxed TLS", "error", err)

	return r.open(ctx, RelaxTLS(r.dsn))
}

func (r *Resolver) useMemory(ctx context.Context, reason string) {
	r.saver = engine.NewMemorySaver()
	r.mode = ModeMemory

	if r.lastErr != nil {
		r.logger.WarnContext(ctx, reason, "error", r.lastErr)

		return
	}

	r.logger.InfoContext(ctx, reason)
}

func (r *Resolver) fail(ctx context.Context, cause error) {
	r.lastErr = cause
	r.err = &contracts.Error{
		Op:      "checkpoint.resolve",
		Code:    contracts.CodeCheckpointUnavailable,
		Message: "durable checkpoint store is required but could not be set up",
		Err:     cause,
	}
	r.logger.ErrorContext(ctx, "Durable checkpoint store unavailable", "error", cause)
}

func (r *Resolver) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := Health{
		Requested:  r.requested,
		Resolved:   r.mode,
		Durable:    r.mode == ModePostgres,
		Ready:      r.saver != nil,
		ResolvedAt: r.at,
	}

	if r.lastErr != nil {
		health.LastError = r.lastErr.Error()
	}

	return health
}

func (r *Resolver) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.backend == nil {
		return nil
	}

	return r.backend.Close()
}

// IsCertificateError reports whether err stems from certificate chain verification.
func IsCertificateError(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var invalid x509.CertificateInvalidError

	if errors.As(err, &unknownAuthority) || errors.As(err, &invalid) {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "certificate")
}

var sslModePattern = regexp.MustCompile(`sslmode=\S*`)

// RelaxTLS rewrites dsn to encrypt without verifying the server certificate.
func RelaxTLS(dsn string) string {
	if strings.Contains(dsn, "://") {
		parsed, err := url.Parse(dsn)
		if err == nil {
			query := parsed.Query()
			query.Del("sslrootcert")
			query.Set("sslmode", "require")
			parsed.RawQuery = query.Encode()

			return parsed.String()
		}
	}

	if sslModePattern.MatchString(dsn) {
		return sslModePattern.ReplaceAllString(dsn, "sslmode=require")
	}

	return strings.TrimSpace(dsn + " sslmode=require")
}
