package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"PromptToMovie-server/config"
	"PromptToMovie-server/models"
)

var ErrNotConfigured = errors.New("capability not configured")

// Resolution is a capability bound to a usable provider.
type Resolution struct {
	Capability Capability `json:"capability"`
	ProviderID string     `json:"provider_id"`
	Endpoint   string     `json:"endpoint,omitempty"`
	Model      string     `json:"model,omitempty"`
	APIKey     string     `json:"-"`
	Simulated  bool       `json:"simulated"`
	Fallback   bool       `json:"fallback"`
}

// Registry reads provider bindings and credentials. It never writes during
// validation or resolution.
type Registry struct {
	db      *gorm.DB
	keyring *Keyring
	client  *http.Client
	log     zerolog.Logger
}

func NewRegistry(db *gorm.DB, keyring *Keyring, log zerolog.Logger) *Registry {
	return &Registry{
		db:      db,
		keyring: keyring,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log.With().Str("component", "providers").Logger(),
	}
}

// Validate checks every capability and reports which resolved. It returns an error
// only when the bindings cannot be read at all.
func (r *Registry) Validate(ctx context.Context, req Requirements) (Report, error) {
	bindings, err := r.bindings(ctx)
	if err != nil {
		return Report{}, err
	}
	required := req.Required()
	report := Report{
		Configured: []Capability{},
		Missing:    []Capability{},
		Blocking:   []Capability{},
		Warnings:   []string{},
		Simulated:  []Capability{},
		Providers:  map[Capability]string{},
		Reasons:    map[Capability]string{},
	}
	for _, c := range Capabilities {
		res, err := r.resolve(ctx, c, bindings)
		if err != nil {
			report.Missing = append(report.Missing, c)
			report.Reasons[c] = reason(c, err)
			if required[c] {
				report.Blocking = append(report.Blocking, c)
			} else {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s not configured: %s", c, reason(c, err)))
			}
			continue
		}
		report.Configured = append(report.Configured, c)
		report.Providers[c] = res.ProviderID
		if res.Simulated {
			report.Simulated = append(report.Simulated, c)
		}
		if res.Fallback {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s using fallback provider %s", c, res.ProviderID))
		}
	}
	report.OK = len(report.Blocking) == 0
	return report, nil
}

// Resolve binds one capability to a provider.
func (r *Registry) Resolve(ctx context.Context, c Capability) (Resolution, error) {
	bindings, err := r.bindings(ctx)
	if err != nil {
		return Resolution{}, err
	}
	return r.resolve(ctx, c, bindings)
}

// Adapter resolves c and returns the adapter that talks to its provider.
func (r *Registry) Adapter(ctx context.Context, c Capability) (Adapter, Resolution, error) {
	res, err := r.Resolve(ctx, c)
	if err != nil {
		return nil, Resolution{}, err
	}
	if res.Simulated {
		return NewSimulatedAdapter(c), res, nil
	}
	return NewHTTPAdapter(res, r.client), res, nil
}

func (r *Registry) bindings(ctx context.Context) (map[Capability]models.ProviderBinding, error) {
	list, err := models.ListProviderBindings(r.db.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list provider bindings: %w", err)
	}
	out := make(map[Capability]models.ProviderBinding, len(list))
	for _, b := range list {
		if c, ok := ParseCapability(b.Capability); ok {
			out[c] = b
		}
	}
	return out, nil
}

func (r *Registry) resolve(ctx context.Context, c Capability, bindings map[Capability]models.ProviderBinding) (Resolution, error) {
	b, ok := bindings[c]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s: no binding", ErrNotConfigured, c)
	}
	if b.SimulationMode {
		id := b.PrimaryProviderID
		if id == "" {
			id = "simulation"
		}
		return Resolution{Capability: c, ProviderID: id, Simulated: true}, nil
	}

	var reasons []string
	for i, providerID := range []string{b.PrimaryProviderID, b.FallbackProviderID} {
		if providerID == "" {
			continue
		}
		res, err := r.credential(ctx, c, providerID)
		if err == nil {
			res.Fallback = i == 1
			return res, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %v", providerID, err))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "binding names no provider")
	}
	return Resolution{}, fmt.Errorf("%w: %s: %s", ErrNotConfigured, c, strings.Join(reasons, "; "))
}

func (r *Registry) credential(ctx context.Context, c Capability, providerID string) (Resolution, error) {
	cred, err := models.GetProviderCredential(r.db.WithContext(ctx), providerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Resolution{}, errors.New("no credential")
	}
	if err != nil {
		return Resolution{}, err
	}
	key, err := r.keyring.Open(cred.SealedKey)
	if err != nil {
		return Resolution{}, err
	}
	if strings.TrimSpace(key) == "" {
		return Resolution{}, errors.New("empty credential")
	}
	return Resolution{
		Capability: c,
		ProviderID: providerID,
		Endpoint:   strings.TrimRight(cred.Endpoint, "/"),
		Model:      cred.Model,
		APIKey:     key,
	}, nil
}

// Seed upserts the bindings and credentials declared in configuration. API keys are
// read through getenv and sealed before they reach the database; a credential whose
// variable is unset is skipped so it stays unresolvable.
func (r *Registry) Seed(ctx context.Context, cfg config.ProvidersConfig, getenv func(string) string) error {
	db := r.db.WithContext(ctx)
	for _, bc := range cfg.Bindings {
		c, ok := ParseCapability(bc.Capability)
		if !ok {
			return fmt.Errorf("seed providers: unknown capability %q", bc.Capability)
		}
		b := &models.ProviderBinding{
			Capability:         string(c),
			PrimaryProviderID:  bc.Primary,
			FallbackProviderID: bc.Fallback,
			SimulationMode:     bc.SimulationMode,
		}
		if err := models.UpsertProviderBinding(db, b); err != nil {
			return fmt.Errorf("seed binding %s: %w", c, err)
		}
	}
	for _, cc := range cfg.Credentials {
		key := ""
		if cc.APIKeyEnv != "" {
			key = getenv(cc.APIKeyEnv)
		}
		if key == "" {
			r.log.Warn().Str("provider", cc.Provider).Str("env", cc.APIKeyEnv).Msg("provider key not set, credential skipped")
			continue
		}
		sealed, err := r.keyring.Seal(key)
		if err != nil {
			return fmt.Errorf("seal credential %s: %w", cc.Provider, err)
		}
		cred := &models.ProviderCredential{
			ProviderID: cc.Provider,
			Endpoint:   cc.Endpoint,
			Model:      cc.Model,
			SealedKey:  sealed,
		}
		if err := models.UpsertProviderCredential(db, cred); err != nil {
			return fmt.Errorf("seed credential %s: %w", cc.Provider, err)
		}
	}
	return nil
}

// reason strips the sentinel and capability prefix from a resolve error.
func reason(c Capability, err error) string {
	return strings.TrimPrefix(err.Error(), fmt.Sprintf("%s: %s: ", ErrNotConfigured, c))
}
