package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/internal/httpclient"
	"github.com/inlethq/inlet/logger"
)

// dateRangeLayout renders date-range window params without a zone suffix;
// the configured timezone already localizes the wall-clock value.
const dateRangeLayout = "2006-01-02T15:04:05"

// Fetcher pulls records from a pipeline's source API, handling auth
// injection, request shaping, pagination, and response-path extraction.
// Pages are fetched sequentially; cursor and offset pagination are
// inherently ordered.
type Fetcher struct {
	client *httpclient.Client
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewFetcher creates a fetcher using the given outbound HTTP client.
func NewFetcher(client *httpclient.Client, log *zap.SugaredLogger) *Fetcher {
	return &Fetcher{client: client, logger: log, now: time.Now}
}

// FetchRecords performs one pull cycle for the pipeline and returns all
// records across pages. Any non-2xx response or transport failure aborts
// the whole fetch; fetch errors are run-level, never per-record.
func (f *Fetcher) FetchRecords(ctx context.Context, pipeline *Pipeline) ([]map[string]any, error) {
	if pipeline.SourceURL == "" {
		return nil, errors.NewInvalidInputError("pipeline %s has no source URL", pipeline.ID)
	}

	var all []map[string]any
	page := 0
	cursor := ""

	for {
		reqURL, headers, err := f.buildRequest(pipeline, page, cursor)
		if err != nil {
			return nil, err
		}

		responseData, records, err := f.fetchPage(ctx, pipeline, reqURL, headers)
		if err != nil {
			return nil, err
		}

		all = append(all, records...)

		f.logger.Debugw("Fetched source page",
			logger.FieldPipelineID, pipeline.ID,
			logger.FieldPage, page,
			logger.FieldRecordCount, len(records),
		)

		cfg := pipeline.PaginationConfig
		if cfg == nil || len(records) == 0 || len(records) < cfg.PageSize {
			break
		}
		if cfg.MaxPages > 0 && page+1 >= cfg.MaxPages {
			break
		}

		if cfg.Kind == PaginationCursor {
			next, ok := ExtractByPath(responseData, cfg.CursorPath)
			nextCursor, isString := next.(string)
			if !ok || !isString || nextCursor == "" {
				break
			}
			cursor = nextCursor
		}
		page++
	}

	return all, nil
}

// buildRequest assembles the URL and headers for one page.
func (f *Fetcher) buildRequest(pipeline *Pipeline, page int, cursor string) (string, http.Header, error) {
	u, err := url.Parse(pipeline.SourceURL)
	if err != nil {
		return "", nil, errors.Wrapf(err, "invalid source URL %q", pipeline.SourceURL)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	query := u.Query()
	reqCfg := pipeline.RequestConfig

	if reqCfg != nil {
		for name, value := range reqCfg.Headers {
			headers.Set(name, value)
		}
		for name, value := range reqCfg.QueryParams {
			query.Set(name, value)
		}
		if reqCfg.DateRange != nil {
			if err := applyDateRange(query, reqCfg.DateRange, f.now()); err != nil {
				return "", nil, err
			}
		}
	}

	if pipeline.AuthConfig != nil {
		applyAuth(query, headers, pipeline.AuthConfig)
	}

	if cfg := pipeline.PaginationConfig; cfg != nil {
		switch cfg.Kind {
		case PaginationOffset:
			query.Set(cfg.ParamName, strconv.Itoa(page*cfg.PageSize))
		case PaginationPage:
			query.Set(cfg.ParamName, strconv.Itoa(page+1))
		case PaginationCursor:
			if cursor != "" {
				query.Set(cfg.ParamName, cursor)
			}
		}
	}

	u.RawQuery = query.Encode()
	return u.String(), headers, nil
}

// fetchPage performs one HTTP round-trip and extracts the page's records.
func (f *Fetcher) fetchPage(ctx context.Context, pipeline *Pipeline, reqURL string, headers http.Header) (map[string]any, []map[string]any, error) {
	method := pipeline.SourceHTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodPost && pipeline.RequestConfig != nil && pipeline.RequestConfig.Body != nil {
		encoded, err := json.Marshal(pipeline.RequestConfig.Body)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to encode request body")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build source request")
	}
	req.Header = headers

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "source request to %s failed", pipeline.SourceURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, errors.Newf("Source API returned %d: %s",
			resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read source response")
	}

	return extractRecords(raw, pipeline.ResponseRecordsPath)
}

// extractRecords pulls the record batch out of a response body. With a
// configured records path, a non-array at that path counts as zero
// records; without one, an array response is used directly and a single
// object is wrapped as a one-element batch.
func extractRecords(raw []byte, recordsPath string) (map[string]any, []map[string]any, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, errors.Wrap(err, "source response is not valid JSON")
	}

	obj, isObject := payload.(map[string]any)

	if recordsPath != "" {
		if !isObject {
			return nil, nil, nil
		}
		extracted, _ := ExtractByPath(obj, recordsPath)
		arr, isArray := extracted.([]any)
		if !isArray {
			return obj, nil, nil
		}
		return obj, toRecordSlice(arr), nil
	}

	if arr, isArray := payload.([]any); isArray {
		return nil, toRecordSlice(arr), nil
	}
	if isObject {
		return obj, []map[string]any{obj}, nil
	}
	return nil, nil, errors.Newf("source response is neither an object nor an array")
}

func toRecordSlice(arr []any) []map[string]any {
	records := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, obj)
		}
	}
	return records
}

// applyAuth injects credentials per the auth config. Unknown kinds are
// rejected at validation, not here.
func applyAuth(query url.Values, headers http.Header, auth *AuthConfig) {
	switch auth.Kind {
	case AuthBearer:
		headers.Set("Authorization", "Bearer "+auth.Token)
	case AuthAPIKey:
		headers.Set(auth.HeaderName, auth.Key)
	case AuthQueryParam:
		value := auth.Value
		if auth.EnvVar != "" {
			value = os.Getenv(auth.EnvVar)
		}
		if value != "" {
			query.Set(auth.ParamName, value)
		}
	case AuthBasic:
		encoded := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		headers.Set("Authorization", "Basic "+encoded)
	}
}

// applyDateRange sets the computed lookback window params, rendered as
// local wall-clock time in the configured timezone.
func applyDateRange(query url.Values, dr *DateRangeParams, now time.Time) error {
	loc := time.UTC
	if dr.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(dr.Timezone)
		if err != nil {
			return errors.Wrapf(err, "unknown timezone %q", dr.Timezone)
		}
	}

	since := now.Add(-time.Duration(dr.LookbackMinutes) * time.Minute)
	query.Set(dr.StartParam, since.In(loc).Format(dateRangeLayout))
	query.Set(dr.EndParam, now.In(loc).Format(dateRangeLayout))
	return nil
}
