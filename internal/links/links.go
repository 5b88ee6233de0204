package links

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"booking-engine/internal/model"
)

const (
	shortCodeLen   = 8
	longCodeLen    = 10
	triesPerLength = 5
	base62         = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// ErrCodeTaken is returned by Store.InsertLink when the code already exists.
var ErrCodeTaken = errors.New("public link code already taken")

type Store interface {
	GetLinkByBusiness(ctx context.Context, businessID string) (model.PublicLink, bool, error)
	GetLinkByCode(ctx context.Context, code string) (model.PublicLink, bool, error)
	// InsertLink stores a new link. It returns ErrCodeTaken on a code collision and
	// the already-stored link with inserted=false when the business raced us to it.
	InsertLink(ctx context.Context, link model.PublicLink) (stored model.PublicLink, inserted bool, err error)
	GetBusinessByLegacyKey(ctx context.Context, key string) (string, bool, error)
}

type Source string

const (
	SourceLegacyKey Source = "legacy_key"
	SourceSlugCode  Source = "slug_code"
	SourceShortCode Source = "short_code"
)

type Resolution struct {
	BusinessID string `json:"business_id"`
	Source     Source `json:"source"`
}

var (
	legacyKeyRe = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	slugCodeRe  = regexp.MustCompile(`^.+-([A-Za-z0-9]{8,10})$`)
	shortCodeRe = regexp.MustCompile(`^[A-Za-z0-9]{8,10}$`)
	slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)
)

type Resolver struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewResolver(store Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger, now: time.Now}
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve maps a public token to a business. Every miss, malformed tokens included,
// is reported as ErrLinkNotFound.
func (r *Resolver) Resolve(ctx context.Context, token string) (Resolution, error) {
	token = strings.TrimSpace(token)

	if legacyKeyRe.MatchString(token) {
		id, ok, err := r.store.GetBusinessByLegacyKey(ctx, strings.ToLower(token))
		if err != nil {
			return Resolution{}, model.Upstream("resolve legacy key", err)
		}
		if ok {
			return Resolution{BusinessID: id, Source: SourceLegacyKey}, nil
		}
		return Resolution{}, model.ErrLinkNotFound
	}

	if m := slugCodeRe.FindStringSubmatch(token); m != nil {
		if res, ok, err := r.byCode(ctx, m[1], SourceSlugCode); err != nil || ok {
			return res, err
		}
	}

	if shortCodeRe.MatchString(token) {
		if res, ok, err := r.byCode(ctx, token, SourceShortCode); err != nil || ok {
			return res, err
		}
	}
	return Resolution{}, model.ErrLinkNotFound
}

func (r *Resolver) byCode(ctx context.Context, code string, src Source) (Resolution, bool, error) {
	link, ok, err := r.store.GetLinkByCode(ctx, code)
	if err != nil {
		return Resolution{}, false, model.Upstream("resolve link code", err)
	}
	if !ok {
		return Resolution{}, false, nil
	}
	return Resolution{BusinessID: link.BusinessID, Source: src}, true, nil
}

// EnsureLink returns the business's link, issuing one if needed. Code collisions are
// retried at 8 then 10 characters, then with a timestamp-derived suffix.
func (r *Resolver) EnsureLink(ctx context.Context, businessID, slug string) (model.PublicLink, error) {
	existing, ok, err := r.store.GetLinkByBusiness(ctx, businessID)
	if err != nil {
		return model.PublicLink{}, model.Upstream("load public link", err)
	}
	if ok {
		return existing, nil
	}

	slug = Slugify(slug)
	candidates := make([]func() (string, error), 0, 2*triesPerLength+1)
	for i := 0; i < triesPerLength; i++ {
		candidates = append(candidates, func() (string, error) { return randomCode(shortCodeLen) })
	}
	for i := 0; i < triesPerLength; i++ {
		candidates = append(candidates, func() (string, error) { return randomCode(longCodeLen) })
	}
	candidates = append(candidates, func() (string, error) { return timestampCode(r.now()) })

	for attempt, next := range candidates {
		code, err := next()
		if err != nil {
			return model.PublicLink{}, err
		}
		stored, inserted, err := r.store.InsertLink(ctx, model.PublicLink{
			BusinessID: businessID,
			Code:       code,
			Slug:       slug,
			CreatedAt:  r.now().UTC(),
		})
		if errors.Is(err, ErrCodeTaken) {
			r.logger.Debug("public link code collision", zap.Int("attempt", attempt+1), zap.Int("length", len(code)))
			continue
		}
		if err != nil {
			return model.PublicLink{}, model.Upstream("insert public link", err)
		}
		if !inserted {
			return stored, nil
		}
		r.logger.Info("public link issued", zap.String("business_id", businessID), zap.String("code", stored.Code))
		return stored, nil
	}
	return model.PublicLink{}, model.Upstream("insert public link", errors.New("exhausted public link code candidates"))
}

// URLToken is the shareable token for a link: "{slug}-{code}" or the bare code.
func URLToken(link model.PublicLink) string {
	if link.Slug == "" {
		return link.Code
	}
	return link.Slug + "-" + link.Code
}

func Slugify(s string) string {
	s = strings.Trim(slugCleanRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
	if len(s) > 48 {
		s = strings.TrimRight(s[:48], "-")
	}
	return s
}

func randomCode(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(base62)))
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = base62[v.Int64()]
	}
	return string(b), nil
}

// timestampCode keeps the 10-char shape: 6 random chars + 4 base62 digits of the clock.
func timestampCode(now time.Time) (string, error) {
	prefix, err := randomCode(longCodeLen - 4)
	if err != nil {
		return "", err
	}
	v := now.UnixMilli()
	suffix := make([]byte, 4)
	for i := len(suffix) - 1; i >= 0; i-- {
		suffix[i] = base62[v%62]
		v /= 62
	}
	return prefix + string(suffix), nil
}
