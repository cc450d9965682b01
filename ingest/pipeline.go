// Package ingest implements the ingestion pipeline engine: declarative
// field mapping with transforms, relation resolution with per-run caching,
// dedup-aware record processing, source fetching with auth and pagination,
// and run lifecycle tracking.
package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/inlethq/inlet/errors"
)

// Mode determines how a pipeline receives records.
type Mode string

const (
	ModePush Mode = "push" // records arrive via webhook
	ModePull Mode = "pull" // records are fetched from a source API
)

// Pipeline is a tenant-scoped ingestion configuration.
type Pipeline struct {
	ID            string `json:"id"`
	WorkspaceID   string `json:"workspaceId"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Mode          Mode   `json:"mode"`
	TargetObject  string `json:"targetObject"`
	WebhookSecret string `json:"webhookSecret,omitempty"` // push only, empty disables the check

	// Pull source configuration
	SourceURL           string            `json:"sourceUrl,omitempty"`
	SourceHTTPMethod    string            `json:"sourceHttpMethod,omitempty"`
	AuthConfig          *AuthConfig       `json:"sourceAuthConfig,omitempty"`
	RequestConfig       *RequestConfig    `json:"sourceRequestConfig,omitempty"`
	ResponseRecordsPath string            `json:"responseRecordsPath,omitempty"`
	PaginationConfig    *PaginationConfig `json:"paginationConfig,omitempty"`
	Schedule            string            `json:"schedule,omitempty"` // cron pattern, pull only

	// DedupFieldName is a dotted path into the resolved record used to
	// decide create-vs-update, e.g. "phones.primaryPhoneNumber".
	DedupFieldName string `json:"dedupFieldName,omitempty"`

	IsEnabled bool       `json:"isEnabled"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// AuthKind selects how source API credentials are injected.
type AuthKind string

const (
	AuthBearer     AuthKind = "bearer"
	AuthAPIKey     AuthKind = "api_key"
	AuthQueryParam AuthKind = "query_param"
	AuthBasic      AuthKind = "basic"
)

// AuthConfig is a tagged union over the supported auth schemes.
// Only the payload fields for the given Kind are meaningful.
type AuthConfig struct {
	Kind AuthKind `json:"type"`

	Token string `json:"token,omitempty"` // bearer

	HeaderName string `json:"headerName,omitempty"` // api_key
	Key        string `json:"key,omitempty"`        // api_key

	ParamName string `json:"paramName,omitempty"` // query_param
	Value     string `json:"value,omitempty"`     // query_param
	EnvVar    string `json:"envVar,omitempty"`    // query_param: resolve value from environment

	Username string `json:"username,omitempty"` // basic
	Password string `json:"password,omitempty"` // basic
}

func (a *AuthConfig) Validate() error {
	switch a.Kind {
	case AuthBearer:
		if a.Token == "" {
			return errors.NewInvalidInputError("bearer auth requires a token")
		}
	case AuthAPIKey:
		if a.HeaderName == "" || a.Key == "" {
			return errors.NewInvalidInputError("api_key auth requires headerName and key")
		}
	case AuthQueryParam:
		if a.ParamName == "" {
			return errors.NewInvalidInputError("query_param auth requires a paramName")
		}
		if a.Value == "" && a.EnvVar == "" {
			return errors.NewInvalidInputError("query_param auth requires a value or envVar")
		}
	case AuthBasic:
		if a.Username == "" {
			return errors.NewInvalidInputError("basic auth requires a username")
		}
	default:
		return errors.NewInvalidInputError("unknown auth type %q", a.Kind)
	}
	return nil
}

// PaginationKind selects the pagination strategy for pull fetches.
type PaginationKind string

const (
	PaginationOffset PaginationKind = "offset"
	PaginationPage   PaginationKind = "page"
	PaginationCursor PaginationKind = "cursor"
)

// PaginationConfig is a tagged union over the supported pagination styles.
type PaginationConfig struct {
	Kind       PaginationKind `json:"type"`
	ParamName  string         `json:"paramName"`
	PageSize   int            `json:"pageSize"`
	CursorPath string         `json:"cursorPath,omitempty"` // cursor: path into the response
	MaxPages   int            `json:"maxPages,omitempty"`   // 0 means unbounded
}

func (p *PaginationConfig) Validate() error {
	switch p.Kind {
	case PaginationOffset, PaginationPage, PaginationCursor:
	default:
		return errors.NewInvalidInputError("unknown pagination type %q", p.Kind)
	}
	if p.ParamName == "" {
		return errors.NewInvalidInputError("pagination requires a paramName")
	}
	if p.PageSize <= 0 {
		return errors.NewInvalidInputError("pagination requires a positive pageSize")
	}
	if p.Kind == PaginationCursor && p.CursorPath == "" {
		return errors.NewInvalidInputError("cursor pagination requires a cursorPath")
	}
	if p.MaxPages < 0 {
		return errors.NewInvalidInputError("maxPages cannot be negative")
	}
	return nil
}

// DateRangeParams configures computed time-window query parameters:
// start = now - lookbackMinutes, end = now, both rendered in Timezone.
type DateRangeParams struct {
	StartParam      string `json:"startParam"`
	EndParam        string `json:"endParam"`
	LookbackMinutes int    `json:"lookbackMinutes"`
	Timezone        string `json:"timezone"`
}

// RequestConfig carries static request shaping for pull fetches.
type RequestConfig struct {
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
	Body        map[string]any    `json:"body,omitempty"` // sent on POST
	DateRange   *DateRangeParams  `json:"dateRangeParams,omitempty"`
}

func (r *RequestConfig) Validate() error {
	if r.DateRange == nil {
		return nil
	}
	if r.DateRange.StartParam == "" || r.DateRange.EndParam == "" {
		return errors.NewInvalidInputError("dateRangeParams requires startParam and endParam")
	}
	if r.DateRange.LookbackMinutes <= 0 {
		return errors.NewInvalidInputError("dateRangeParams requires a positive lookbackMinutes")
	}
	if r.DateRange.Timezone != "" {
		if _, err := time.LoadLocation(r.DateRange.Timezone); err != nil {
			return errors.NewInvalidInputError("unknown timezone %q", r.DateRange.Timezone)
		}
	}
	return nil
}

// Validate checks the pipeline configuration. Config unions are validated
// here, at save time, so a bad transform or auth block fails the admin call
// instead of a run months later.
func (p *Pipeline) Validate() error {
	if p.WorkspaceID == "" {
		return errors.NewInvalidInputError("pipeline requires a workspaceId")
	}
	if p.Name == "" {
		return errors.NewInvalidInputError("pipeline requires a name")
	}
	if p.TargetObject == "" {
		return errors.NewInvalidInputError("pipeline requires a targetObject")
	}
	if p.Mode != ModePush && p.Mode != ModePull {
		return errors.NewInvalidInputError("pipeline mode must be push or pull, got %q", p.Mode)
	}
	if p.AuthConfig != nil {
		if err := p.AuthConfig.Validate(); err != nil {
			return err
		}
	}
	if p.PaginationConfig != nil {
		if err := p.PaginationConfig.Validate(); err != nil {
			return err
		}
	}
	if p.RequestConfig != nil {
		if err := p.RequestConfig.Validate(); err != nil {
			return err
		}
	}
	if p.Schedule != "" {
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			return errors.NewInvalidInputError("invalid schedule %q: %v", p.Schedule, err)
		}
	}
	return nil
}

// GenerateWebhookSecret produces the shared secret for push pipelines:
// two concatenated uuid4s with the dashes stripped.
func GenerateWebhookSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") +
		strings.ReplaceAll(uuid.NewString(), "-", "")
}
