package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/storage"
)

type feedSigner interface {
	Issue(subject, scope string) (string, time.Time, error)
	Verify(token string) (storage.FeedClaims, error)
}

type feedExporter interface {
	Export(ctx context.Context, claims *models.JWTClaims, req ExportRequest) (*ExportFile, error)
}

// FeedConfig configures subscription feeds.
type FeedConfig struct {
	Enabled bool
	BaseURL string
	// Past and Future bound the window served relative to now.
	Past   time.Duration
	Future time.Duration
	Now    func() time.Time
}

// FeedRequest selects what a subscription feed contains.
type FeedRequest struct {
	Types         []string `json:"types" validate:"omitempty,dive,oneof=assignment announcement"`
	HiddenCourses []string `json:"hidden_courses" validate:"omitempty,dive,min=1"`
}

// FeedLink is a freshly issued subscription URL.
type FeedLink struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FeedService issues signed calendar subscription URLs and serves them as ICS.
type FeedService struct {
	signer    feedSigner
	exporter  feedExporter
	validator *validator.Validate
	logger    *zap.Logger
	cfg       FeedConfig
}

// NewFeedService constructs the service.
func NewFeedService(signer feedSigner, exporter feedExporter, validate *validator.Validate, logger *zap.Logger, cfg FeedConfig) *FeedService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Past <= 0 {
		cfg.Past = 30 * 24 * time.Hour
	}
	if cfg.Future <= 0 {
		cfg.Future = 180 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &FeedService{signer: signer, exporter: exporter, validator: validate, logger: logger, cfg: cfg}
}

// Issue signs a feed token for the caller.
func (s *FeedService) Issue(_ context.Context, claims *models.JWTClaims, req FeedRequest) (*FeedLink, error) {
	if !s.cfg.Enabled || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "calendar feeds are disabled")
	}
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feed payload")
	}

	scope := url.Values{}
	scope.Set("role", string(claims.Role))
	if len(req.Types) > 0 {
		scope.Set("types", strings.Join(req.Types, ","))
	}
	if len(req.HiddenCourses) > 0 {
		scope.Set("hide", strings.Join(req.HiddenCourses, ","))
	}

	token, expires, err := s.signer.Issue(claims.UserID, scope.Encode())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue feed token")
	}
	s.logger.Info("calendar feed issued", zap.String("user_id", claims.UserID), zap.Time("expires_at", expires))
	return &FeedLink{Token: token, URL: s.cfg.BaseURL + "/calendar/feed/" + token, ExpiresAt: expires}, nil
}

// Serve renders the ICS document behind token.
func (s *FeedService) Serve(ctx context.Context, token string) (*ExportFile, error) {
	if !s.cfg.Enabled || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "calendar feeds are disabled")
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrExpiredToken) {
			return nil, appErrors.Clone(appErrors.ErrFeedToken, "feed token expired")
		}
		return nil, appErrors.ErrFeedToken
	}
	scope, err := url.ParseQuery(claims.Scope)
	if err != nil {
		return nil, appErrors.ErrFeedToken
	}

	viewer := &models.JWTClaims{UserID: claims.Subject, Role: models.UserRole(scope.Get("role"))}
	req := ExportRequest{Format: ExportICS, HiddenCourses: splitList(scope.Get("hide"))}
	if raw := scope.Get("types"); raw != "" {
		req.Types = []models.EventType{}
		for _, t := range splitList(raw) {
			req.Types = append(req.Types, models.EventType(t))
		}
	}
	now := s.cfg.Now()
	req.Date = now
	req.From = now.Add(-s.cfg.Past)
	req.To = now.Add(s.cfg.Future)

	file, err := s.exporter.Export(ctx, viewer, req)
	if err != nil {
		return nil, err
	}
	file.Filename = "calendario.ics"
	return file, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
