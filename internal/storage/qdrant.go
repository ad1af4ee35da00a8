package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/tracing"
	"cv-extractor/internal/types"
)

var qdrantTracer = otel.Tracer("cv-extractor/storage/qdrant")

// SectionPointNamespace 生成片段点 ID 的命名空间，同一文档同一片段总是得到同一个 ID
var SectionPointNamespace = uuid.Must(uuid.FromString("fd6c72c2-5a33-4b53-8e7c-8298f3f5a7e1"))

// 写入 payload 的片段文本上限
const maxPayloadText = 1000

// SectionPointID 片段在向量库中的确定性 ID
func SectionPointID(kind types.DocumentKind, contentID string, index int) string {
	return uuid.NewV5(SectionPointNamespace, fmt.Sprintf("%s:%s:%d", kind, contentID, index)).String()
}

// SearchResult 向量检索结果
type SearchResult struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// SectionHit 检索命中的片段
type SectionHit struct {
	PointID   string             `json:"point_id"`
	Score     float32            `json:"score"`
	Kind      types.DocumentKind `json:"kind"`
	ContentID string             `json:"content_id"`
	Filename  string             `json:"filename"`
	Index     int                `json:"index"`
	Label     string             `json:"label"`
	Text      string             `json:"text"`
}

// Qdrant 基于 REST 接口的片段向量存储
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	apiKey         string
	searchLimit    int
	httpClient     *http.Client
	logger         zerolog.Logger
}

// QdrantOption Qdrant 选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHttpTimeout 设置HTTP超时
func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient.Timeout = timeout
	}
}

// WithQdrantLogger 设置日志
func WithQdrantLogger(l zerolog.Logger) QdrantOption {
	return func(q *Qdrant) {
		q.logger = l
	}
}

// NewQdrant 创建 Qdrant 客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant 向量维度必须大于0")
	}

	q := &Qdrant{
		endpoint:       cfg.Endpoint,
		collectionName: cfg.Collection,
		vectorSize:     cfg.Dimension,
		distanceMetric: "Cosine",
		apiKey:         cfg.APIKey,
		searchLimit:    cfg.DefaultSearchLimit,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger.Component("qdrant"),
	}
	if q.collectionName == "" {
		q.collectionName = "cv_sections"
	}
	if q.searchLimit <= 0 {
		q.searchLimit = 10
	}
	for _, opt := range opts {
		opt(q)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("初始化Qdrant集合失败: %w", err)
	}
	return q, nil
}

// Collection 集合名称
func (q *Qdrant) Collection() string { return q.collectionName }

// EnsureCollection 检查集合，不存在则创建
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollection", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("db.vector_size", q.vectorSize),
	)

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := q.doRequest(ctx, http.MethodGet, "/collections/"+q.collectionName, nil, &info)
	if status == http.StatusNotFound {
		span.AddEvent("collection_not_found")
		q.logger.Info().Str("collection", q.collectionName).Msg("集合不存在，将创建新集合")
		return q.createCollection(ctx)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("检查集合失败: %w", err)
	}

	existing := info.Result.Config.Params.Vectors
	if existing.Size != q.vectorSize || existing.Distance != q.distanceMetric {
		// 维度不一致时写入会失败，这里只告警
		q.logger.Warn().
			Int("existing_size", existing.Size).Str("existing_distance", existing.Distance).
			Int("size", q.vectorSize).Str("distance", q.distanceMetric).
			Msg("现有集合配置与当前配置不匹配")
		span.AddEvent("collection_config_mismatch")
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (q *Qdrant) createCollection(ctx context.Context) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
		"optimizers_config": map[string]interface{}{
			"default_segment_number": 2,
		},
	}
	if _, err := q.doRequest(ctx, http.MethodPut, "/collections/"+q.collectionName, body, nil); err != nil {
		return fmt.Errorf("创建集合失败: %w", err)
	}
	q.logger.Info().Str("collection", q.collectionName).Int("dimension", q.vectorSize).Msg("已创建Qdrant集合")
	return nil
}

func documentFilter(kind types.DocumentKind, contentID string) map[string]interface{} {
	return map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "kind", "match": map[string]interface{}{"value": string(kind)}},
			{"key": "content_id", "match": map[string]interface{}{"value": contentID}},
		},
	}
}

// UpsertSections 替换文档的全部片段向量，只写入已向量化的片段。返回写入的点 ID，下标与 sections 对齐，未写入的为空串。
func (q *Qdrant) UpsertSections(ctx context.Context, kind types.DocumentKind, contentID, filename string, sections []types.Section) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.UpsertSections", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("document.content_id", contentID),
		attribute.Int("sections.count", len(sections)),
	)

	// 先清掉旧片段，片段数变少时不会残留
	if err := q.DeleteDocument(ctx, kind, contentID); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	ids := make([]string, len(sections))
	points := make([]map[string]interface{}, 0, len(sections))
	for i, s := range sections {
		if !s.HasEmbedding() {
			continue
		}
		if len(s.Embedding) != q.vectorSize {
			err := fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(s.Embedding), q.vectorSize)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return nil, err
		}
		id := SectionPointID(kind, contentID, s.Index)
		ids[i] = id
		points = append(points, map[string]interface{}{
			"id":     id,
			"vector": s.Embedding,
			"payload": map[string]interface{}{
				"kind":          string(kind),
				"content_id":    contentID,
				"filename":      filename,
				"section_index": s.Index,
				"label":         s.Label,
				"text":          tracing.TruncateString(s.Text, maxPayloadText),
			},
		})
	}
	span.SetAttributes(attribute.Int("points.count", len(points)))
	if len(points) == 0 {
		span.SetStatus(codes.Ok, "no embedded sections")
		return ids, nil
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName)
	if _, err := q.doRequest(ctx, http.MethodPut, path, map[string]interface{}{"points": points}, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("写入片段向量失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return ids, nil
}

// DeleteDocument 删除文档的全部片段向量
func (q *Qdrant) DeleteDocument(ctx context.Context, kind types.DocumentKind, contentID string) error {
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName)
	body := map[string]interface{}{"filter": documentFilter(kind, contentID)}
	if _, err := q.doRequest(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("删除旧片段向量失败: %w", err)
	}
	return nil
}

// Search 检索相似片段，kind 为空时不过滤类型
func (q *Qdrant) Search(ctx context.Context, vector []float64, limit int, kind types.DocumentKind) ([]SectionHit, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Search", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("search.limit", limit),
	)

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(vector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if limit <= 0 {
		limit = q.searchLimit
	}

	req := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if kind != "" {
		req["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "kind", "match": map[string]interface{}{"value": string(kind)}},
			},
		}
	}

	var resp struct {
		Result []SearchResult `json:"result"`
	}
	if _, err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collectionName), req, &resp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	hits := make([]SectionHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, hitFromResult(r))
	}
	span.SetAttributes(attribute.Int("search.results.count", len(hits)))
	span.SetStatus(codes.Ok, "")
	return hits, nil
}

func hitFromResult(r SearchResult) SectionHit {
	hit := SectionHit{PointID: r.ID, Score: r.Score}
	str := func(key string) string {
		s, _ := r.Payload[key].(string)
		return s
	}
	hit.Kind = types.DocumentKind(str("kind"))
	hit.ContentID = str("content_id")
	hit.Filename = str("filename")
	hit.Label = str("label")
	hit.Text = str("text")
	if idx, ok := r.Payload["section_index"].(float64); ok {
		hit.Index = int(idx)
	}
	return hit
}

// CountPoints 集合中的点数量
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", q.collectionName)
	if _, err := q.doRequest(ctx, http.MethodPost, path, map[string]interface{}{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// doRequest 发送请求并解析响应，返回 HTTP 状态码
func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("http.method", method),
	)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return 0, err
		}
		reader = bytes.NewReader(jsonBody)
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return 0, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, string(respBody))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return resp.StatusCode, err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return resp.StatusCode, err
		}
	}
	span.SetStatus(codes.Ok, "")
	return resp.StatusCode, nil
}
