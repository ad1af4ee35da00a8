package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-extractor/internal/api/handler"
	"cv-extractor/internal/api/router"
	"cv-extractor/internal/config"
	"cv-extractor/internal/parser"
	"cv-extractor/internal/processor"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
	"cv-extractor/internal/utils"
)

const (
	resumeA = "Jane Doe\n\nEXPERIENCE\nBackend engineer at Acme for five years building payment systems in Go.\n\nEDUCATION\nBSc Computer Science, Cairo University, 2015."
	resumeB = "John Roe\n\nSKILLS\nPython, SQL, Kubernetes, Terraform and a lot of on-call experience.\n\nPROJECTS\nBuilt an internal search engine for legal documents."
)

// stubFields 返回缺省字段，release 不为 nil 时阻塞到关闭
type stubFields struct {
	started chan struct{}
	release chan struct{}
}

func (f *stubFields) ExtractFields(ctx context.Context, kind types.DocumentKind, text, filename string) (*parser.FieldResult, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	fields := types.DefaultFields(types.SchemaFor(kind))
	if kind == types.KindCV {
		fields["full_name"] = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	return &parser.FieldResult{Fields: fields, Raw: "{}"}, nil
}

type testEnv struct {
	cfg    *config.Config
	store  *storage.Storage
	runs   *processor.RunManager
	fields *stubFields
	engine *server.Hertz
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadConfigFromBytes([]byte("output:\n  data_path: " + filepath.Join(dir, "data") + "\n"))
	require.NoError(t, err)
	cfg.Folders.Applicants = filepath.Join(dir, "applicants")
	cfg.Folders.Roles = filepath.Join(dir, "roles")
	require.NoError(t, os.MkdirAll(cfg.Folders.Applicants, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Folders.Roles, 0o755))

	sink, err := storage.NewCSVRowSink(cfg.Output.ApplicantsCSV, types.KindCV, false)
	require.NoError(t, err)
	store := &storage.Storage{
		Records: storage.NewMemoryStore(),
		Locker:  storage.NewLocalLocker(),
		Rows:    map[types.DocumentKind]*storage.CSVRowSink{types.KindCV: sink},
	}

	extractor, err := parser.NewTextExtractor(context.Background())
	require.NoError(t, err)
	fields := &stubFields{}
	comp := &processor.Components{
		Extractor: extractor,
		Fields:    fields,
		Slicer:    parser.NewSectionSlicer(cfg.Pipeline.MaxSectionChars, cfg.Pipeline.MinSectionChars),
		Records:   store.Records,
		Locker:    store.Locker,
	}
	comp.Rows = map[types.DocumentKind]storage.RowSink{types.KindCV: sink}
	orch, err := processor.NewBatchOrchestrator(comp, &processor.Settings{},
		processor.WithConcurrency(1), processor.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	runs := processor.NewRunManager(orch)

	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(h, router.Handlers{
		System:  handler.NewSystemHandler(cfg, store.Status),
		Runs:    handler.NewRunHandler(cfg, runs),
		Records: handler.NewRecordHandler(cfg, store),
		Search:  handler.NewSearchHandler(nil, nil, cfg.Qdrant.DefaultSearchLimit),
	}, apiKey)

	return &testEnv{cfg: cfg, store: store, runs: runs, fields: fields, engine: h}
}

func (e *testEnv) writeApplicant(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.cfg.Folders.Applicants, name), []byte(content), 0o644))
}

func (e *testEnv) get(path string, headers ...ut.Header) *ut.ResponseRecorder {
	return ut.PerformRequest(e.engine.Engine, "GET", path, nil, headers...)
}

func (e *testEnv) postJSON(path, body string, headers ...ut.Header) *ut.ResponseRecorder {
	buf := bytes.NewBufferString(body)
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	return ut.PerformRequest(e.engine.Engine, "POST", path, &ut.Body{Body: buf, Len: buf.Len()}, headers...)
}

func (e *testEnv) waitRun(t *testing.T, id string) {
	t.Helper()
	done, err := e.runs.Done(id)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("任务没有结束")
	}
}

type runView struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Status  string         `json:"status"`
	Summary *types.Summary `json:"summary"`
	Error   string         `json:"error"`
	RunID   string         `json:"run_id"`
}

type rowsView struct {
	Kind    string      `json:"kind"`
	Source  string      `json:"source"`
	Count   int         `json:"count"`
	Columns []string    `json:"columns"`
	Rows    []types.Row `json:"rows"`
}

func decode(t *testing.T, resp *ut.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), v), "响应体: %s", resp.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.get("/api/v1/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "up", body.Backends["csv"])
	assert.Equal(t, "disabled", body.Backends["mysql"])
}

func TestFolders(t *testing.T) {
	env := newTestEnv(t, "")
	env.writeApplicant(t, "a.txt", resumeA)
	env.writeApplicant(t, "notes.doc", "legacy")

	resp := env.get("/api/v1/folders")
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Folders []handler.FolderView `json:"folders"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Folders, 2)
	assert.Equal(t, types.KindCV, body.Folders[0].Kind)
	require.Len(t, body.Folders[0].Files, 1, "不支持的格式不应出现")
	assert.Equal(t, "a.txt", body.Folders[0].Files[0].Name)
	assert.Empty(t, body.Folders[1].Files)
}

func TestRunLifecycleAndRecords(t *testing.T) {
	env := newTestEnv(t, "")
	env.writeApplicant(t, "a.txt", resumeA)
	env.writeApplicant(t, "b.txt", resumeB)

	resp := env.postJSON("/api/v1/runs", `{"kind":"cv"}`)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	var started runView
	decode(t, resp, &started)
	require.NotEmpty(t, started.ID)
	env.waitRun(t, started.ID)

	resp = env.get("/api/v1/runs/" + started.ID)
	require.Equal(t, http.StatusOK, resp.Code)
	var finished runView
	decode(t, resp, &finished)
	assert.Equal(t, "finished", finished.Status)
	require.NotNil(t, finished.Summary)
	assert.Equal(t, 2, finished.Summary.Processed)
	assert.Empty(t, finished.Summary.Failed)

	resp = env.get("/api/v1/runs")
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Runs []runView `json:"runs"`
	}
	decode(t, resp, &list)
	assert.Len(t, list.Runs, 1)

	// 默认读 CSV 输出
	resp = env.get("/api/v1/records?kind=cv")
	require.Equal(t, http.StatusOK, resp.Code)
	var rows rowsView
	decode(t, resp, &rows)
	assert.Equal(t, "csv", rows.Source)
	assert.Equal(t, 2, rows.Count)
	assert.Contains(t, rows.Columns, "content_id")

	resp = env.get("/api/v1/records?kind=cv&source=store")
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &rows)
	assert.Equal(t, "store", rows.Source)
	assert.Equal(t, 2, rows.Count)

	id := utils.ContentHash([]byte(resumeA))
	resp = env.get("/api/v1/records/" + id + "?kind=cv")
	require.Equal(t, http.StatusOK, resp.Code)
	var rec types.Record
	decode(t, resp, &rec)
	assert.Equal(t, id, rec.ContentID)
	assert.Equal(t, "a.txt", rec.SourceFilename)
	assert.NotEmpty(t, rec.Sections)
	assert.Equal(t, "a", rec.Fields["full_name"])

	resp = env.get("/api/v1/records/missing?kind=cv")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = env.get("/api/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStartRun_SelectedFiles(t *testing.T) {
	env := newTestEnv(t, "")
	env.writeApplicant(t, "a.txt", resumeA)
	env.writeApplicant(t, "b.txt", resumeB)

	resp := env.postJSON("/api/v1/runs", `{"kind":"cv","files":["b.txt"]}`)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	var started runView
	decode(t, resp, &started)
	env.waitRun(t, started.ID)

	info, err := env.runs.Get(started.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Summary.Total)
	assert.Equal(t, 1, info.Summary.Processed)
}

func TestStartRun_BadRequests(t *testing.T) {
	env := newTestEnv(t, "")
	env.writeApplicant(t, "a.txt", resumeA)

	cases := []struct {
		name string
		body string
	}{
		{"非法JSON", `{"kind":`},
		{"未知类型", `{"kind":"invoice"}`},
		{"目录外文件", `{"kind":"cv","files":["../etc/passwd"]}`},
		{"不存在的文件", `{"kind":"cv","files":["missing.pdf"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.postJSON("/api/v1/runs", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
		})
	}
	assert.Empty(t, env.runs.List(), "请求无效时不应启动任务")
}

func TestStartRun_ConflictAndCancel(t *testing.T) {
	env := newTestEnv(t, "")
	env.fields.started = make(chan struct{}, 1)
	env.fields.release = make(chan struct{})
	env.writeApplicant(t, "a.txt", resumeA)
	env.writeApplicant(t, "b.txt", resumeB)

	resp := env.postJSON("/api/v1/runs", `{"kind":"cv"}`)
	require.Equal(t, http.StatusAccepted, resp.Code)
	var first runView
	decode(t, resp, &first)
	<-env.fields.started

	resp = env.postJSON("/api/v1/runs", `{"kind":"cv"}`)
	require.Equal(t, http.StatusConflict, resp.Code)
	var conflict runView
	decode(t, resp, &conflict)
	assert.Equal(t, first.ID, conflict.RunID)

	req := ut.PerformRequest(env.engine.Engine, "DELETE", "/api/v1/runs/"+first.ID, nil)
	require.Equal(t, http.StatusAccepted, req.Code)
	close(env.fields.release)
	env.waitRun(t, first.ID)

	info, err := env.runs.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, processor.RunCanceled, info.Status)
	assert.Equal(t, 1, info.Summary.Processed, "已开始的文件应完成")

	resp = ut.PerformRequest(env.engine.Engine, "DELETE", "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, "")
	env.writeApplicant(t, "a.txt", resumeA)
	resp := env.postJSON("/api/v1/runs", `{"kind":"cv"}`)
	require.Equal(t, http.StatusAccepted, resp.Code)
	var started runView
	decode(t, resp, &started)
	env.waitRun(t, started.ID)

	resp = env.get("/api/v1/export?kind=cv&format=csv")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, string(resp.Result().Header.ContentType()), "text/csv")
	assert.Contains(t, string(resp.Result().Header.Peek("Content-Disposition")), "applicants.csv")
	body := resp.Body.Bytes()
	require.True(t, bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}), "CSV 应带 BOM")
	lines := strings.Split(strings.TrimSpace(string(body[3:])), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,filename,file_location,status"))
	assert.Contains(t, lines[1], "a.txt")

	resp = env.get("/api/v1/export?kind=cv&format=xlsx")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("PK")), "xlsx 是 zip 格式")

	resp = env.get("/api/v1/export?kind=cv&format=pdf")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestOriginal_NoObjectStore(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.get("/api/v1/records/abc/original?kind=cv")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRecords_BadKind(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.get("/api/v1/records?kind=invoice")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// 岗位没有 CSV 输出，读内存记录
	resp = env.get("/api/v1/records?kind=role")
	require.Equal(t, http.StatusOK, resp.Code)
	var rows rowsView
	decode(t, resp, &rows)
	assert.Equal(t, "store", rows.Source)
	assert.Zero(t, rows.Count)
}

// fakeQuery 固定向量
type fakeQuery struct{ err error }

func (f fakeQuery) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float64{1, 0, 0}, nil
}

// fakeIndex 记录检索参数
type fakeIndex struct {
	limit int
	kind  types.DocumentKind
}

func (f *fakeIndex) Search(ctx context.Context, vector []float64, limit int, kind types.DocumentKind) ([]storage.SectionHit, error) {
	f.limit, f.kind = limit, kind
	return []storage.SectionHit{{ContentID: "abc", Kind: types.KindCV, Label: "Experience", Score: 0.9}}, nil
}

func TestSearch(t *testing.T) {
	index := &fakeIndex{}
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	h.GET("/search", handler.NewSearchHandler(fakeQuery{}, index, 5).HandleSearch)

	resp := ut.PerformRequest(h.Engine, "GET", "/search?q=golang+backend&kind=cv", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var body struct {
		Count int                  `json:"count"`
		Hits  []storage.SectionHit `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "Experience", body.Hits[0].Label)
	assert.Equal(t, 5, index.limit, "未指定 limit 时使用默认值")
	assert.Equal(t, types.KindCV, index.kind)

	resp = ut.PerformRequest(h.Engine, "GET", "/search?q=x&limit=1000", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 100, index.limit)
	assert.Equal(t, types.DocumentKind(""), index.kind, "省略 kind 时不过滤")

	resp = ut.PerformRequest(h.Engine, "GET", "/search", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSearch_Unavailable(t *testing.T) {
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	h.GET("/off", handler.NewSearchHandler(nil, nil, 0).HandleSearch)
	h.GET("/broken", handler.NewSearchHandler(fakeQuery{err: errors.New("upstream 500")}, &fakeIndex{}, 0).HandleSearch)

	resp := ut.PerformRequest(h.Engine, "GET", "/off?q=go", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	resp = ut.PerformRequest(h.Engine, "GET", "/broken?q=go", nil)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestAPIKey(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp := env.get("/api/v1/health")
	assert.Equal(t, http.StatusOK, resp.Code, "健康检查不需要鉴权")

	resp = env.get("/api/v1/runs")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.get("/api/v1/runs", ut.Header{Key: "Authorization", Value: "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.get("/api/v1/runs", ut.Header{Key: "Authorization", Value: "Bearer secret"})
	assert.Equal(t, http.StatusOK, resp.Code)
}
