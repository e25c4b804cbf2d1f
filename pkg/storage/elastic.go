package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/pkg/policy"
)

// DefaultElasticIndex is the index records are written to.
const DefaultElasticIndex = "outgoing-requests-log"

const policyDocID = "outgoing-requests-log-config"

// ElasticConfig configures the Elasticsearch backend.
type ElasticConfig struct {
	Addresses              []string
	Username               string
	Password               string
	CloudID                string
	APIKey                 string
	ServiceToken           string
	CertificateFingerprint string

	// Index defaults to DefaultElasticIndex. The policy row is kept in
	// Index + "-config".
	Index string

	// Transport is used by tests to point the client at a fake cluster.
	Transport http.RoundTripper
}

// ElasticStorage indexes records as documents.
type ElasticStorage struct {
	ES    *elasticsearch.Client
	Index string
}

// NewElasticStorage connects to the cluster described by cfg.
func NewElasticStorage(cfg ElasticConfig) (*ElasticStorage, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:              cfg.Addresses,
		Username:               cfg.Username,
		Password:               cfg.Password,
		CloudID:                cfg.CloudID,
		APIKey:                 cfg.APIKey,
		ServiceToken:           cfg.ServiceToken,
		CertificateFingerprint: cfg.CertificateFingerprint,
		Transport:              cfg.Transport,
	})
	if err != nil {
		return nil, newError("elasticsearch", "connect", err)
	}

	esInfo, err := es.Info()
	if err != nil {
		return nil, newError("elasticsearch", "info", err)
	}
	defer esInfo.Body.Close()
	if esInfo.IsError() {
		return nil, newError("elasticsearch", "info", fmt.Errorf("%s", esInfo.String()))
	}

	logging.L.Info("Connected to Elasticsearch", zap.String("info", esInfo.Status()))

	index := cfg.Index
	if index == "" {
		index = DefaultElasticIndex
	}

	return &ElasticStorage{ES: es, Index: index}, nil
}

func (s *ElasticStorage) Name() string { return "elasticsearch" }

func (s *ElasticStorage) configIndex() string { return s.Index + "-config" }

func (s *ElasticStorage) Store(ctx context.Context, r *LogRecord) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return newError(s.Name(), "marshal", err)
	}

	res, err := s.ES.Index(s.Index, bytes.NewReader(doc),
		s.ES.Index.WithContext(ctx),
		s.ES.Index.WithDocumentID(r.ID),
	)
	if err := checkResponse(res, err); err != nil {
		return newError(s.Name(), "store", err)
	}
	return nil
}

func (s *ElasticStorage) List(ctx context.Context, q Query) ([]*LogRecord, error) {
	body, err := json.Marshal(map[string]any{
		"query": elasticQuery(q),
		"sort":  []any{map[string]any{"timestamp": map[string]string{"order": "desc"}}},
		"from":  q.Offset,
		"size":  q.limit(),
	})
	if err != nil {
		return nil, newError(s.Name(), "list", err)
	}

	res, err := s.ES.Search(
		s.ES.Search.WithContext(ctx),
		s.ES.Search.WithIndex(s.Index),
		s.ES.Search.WithBody(bytes.NewReader(body)),
	)
	payload, err := readResponse(res, err)
	if err != nil {
		return nil, newError(s.Name(), "list", err)
	}

	records := []*LogRecord{}
	for _, hit := range gjson.GetBytes(payload, "hits.hits.#._source").Array() {
		var r LogRecord
		if err := json.Unmarshal([]byte(hit.Raw), &r); err != nil {
			return nil, newError(s.Name(), "decode", err)
		}
		records = append(records, r.normalize())
	}
	return records, nil
}

func (s *ElasticStorage) Get(ctx context.Context, id string) (*LogRecord, error) {
	res, err := s.ES.Get(s.Index, id, s.ES.Get.WithContext(ctx))
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, ErrNotFound
	}

	payload, err := readResponse(res, err)
	if err != nil {
		return nil, newError(s.Name(), "get", err)
	}

	var r LogRecord
	if err := json.Unmarshal([]byte(gjson.GetBytes(payload, "_source").Raw), &r); err != nil {
		return nil, newError(s.Name(), "decode", err)
	}
	return r.normalize(), nil
}

func (s *ElasticStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	body := fmt.Sprintf(`{"query":{"range":{"timestamp":{"lt":%q}}}}`, cutoff.UTC().Format(time.RFC3339Nano))

	res, err := s.ES.DeleteByQuery([]string{s.Index}, strings.NewReader(body),
		s.ES.DeleteByQuery.WithContext(ctx),
		s.ES.DeleteByQuery.WithRefresh(true),
	)
	payload, err := readResponse(res, err)
	if err != nil {
		return 0, newError(s.Name(), "delete", err)
	}

	return gjson.GetBytes(payload, "deleted").Int(), nil
}

func (s *ElasticStorage) LoadPolicy(ctx context.Context) (policy.Policy, bool, error) {
	res, err := s.ES.Get(s.configIndex(), policyDocID, s.ES.Get.WithContext(ctx))
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return policy.Policy{}, false, nil
	}

	payload, err := readResponse(res, err)
	if err != nil {
		return policy.Policy{}, false, newError(s.Name(), "load_policy", err)
	}

	var p policy.Policy
	if err := json.Unmarshal([]byte(gjson.GetBytes(payload, "_source").Raw), &p); err != nil {
		return policy.Policy{}, false, newError(s.Name(), "load_policy", err)
	}
	return p, true, nil
}

func (s *ElasticStorage) SavePolicy(ctx context.Context, p policy.Policy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return newError(s.Name(), "save_policy", err)
	}

	res, err := s.ES.Index(s.configIndex(), bytes.NewReader(doc),
		s.ES.Index.WithContext(ctx),
		s.ES.Index.WithDocumentID(policyDocID),
		s.ES.Index.WithRefresh("true"),
	)
	if err := checkResponse(res, err); err != nil {
		return newError(s.Name(), "save_policy", err)
	}
	return nil
}

func (s *ElasticStorage) Close() error { return nil }

func elasticQuery(q Query) map[string]any {
	var filters []any
	if q.Hostname != "" {
		filters = append(filters, map[string]any{"term": map[string]string{"hostname.keyword": q.Hostname}})
	}
	if q.Method != "" {
		filters = append(filters, map[string]any{"term": map[string]string{"method.keyword": q.Method}})
	}

	rng := map[string]string{}
	if !q.Since.IsZero() {
		rng["gte"] = q.Since.UTC().Format(time.RFC3339Nano)
	}
	if !q.Until.IsZero() {
		rng["lt"] = q.Until.UTC().Format(time.RFC3339Nano)
	}
	if len(rng) > 0 {
		filters = append(filters, map[string]any{"range": map[string]any{"timestamp": rng}})
	}

	if len(filters) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": map[string]any{"filter": filters}}
}

func checkResponse(res *esapi.Response, err error) error {
	_, err = readResponse(res, err)
	return err
}

func readResponse(res *esapi.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.IsError() {
		reason := gjson.GetBytes(payload, "error.reason").String()
		if reason == "" {
			reason = string(payload)
		}
		return nil, fmt.Errorf("%s: %s", res.Status(), reason)
	}

	return payload, nil
}
