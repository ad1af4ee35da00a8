package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cv-extractor/internal/config"
	"cv-extractor/internal/parser"
	"cv-extractor/internal/processor"
	"cv-extractor/internal/types"
	"cv-extractor/internal/utils"
)

// fileArgs 单文件命令的公共参数
type fileArgs struct {
	cfg    *config.Config
	path   string
	maxLen int
}

func parseFileArgs(name string, args []string) (*fileArgs, error) {
	fs, configPath, logLevel := newFlagSet(name)
	maxLen := fs.Int("maxlen", 1000, "显示的文本最大长度，设为-1显示全部")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%s 需要一个文件路径", name)
	}
	cfg, err := loadConfig(*configPath, *logLevel)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("无法获取文件的绝对路径: %w", err)
	}
	return &fileArgs{cfg: cfg, path: abs, maxLen: *maxLen}, nil
}

// extractText 按扩展名提取文本，返回 content_id
func extractText(ctx context.Context, a *fileArgs) (string, string, error) {
	format, err := parser.DetectFormat(a.path)
	if err != nil {
		return "", "", err
	}
	extractor, err := parser.NewTextExtractor(ctx,
		parser.WithMaxBytes(a.cfg.MaxFileBytes()),
		parser.WithPDFTimeout(a.cfg.ExtractionTimeout()),
	)
	if err != nil {
		return "", "", err
	}
	data, err := extractor.ReadFile(a.path)
	if err != nil {
		return "", "", err
	}
	id := utils.ContentHash(data)
	text, err := extractor.ExtractBytes(ctx, data, filepath.Base(a.path), format)
	if err != nil {
		return "", "", err
	}
	return text, id, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n < 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "...(已截断，使用 --maxlen 显示更多)"
}

func extractCommand(args []string) error {
	a, err := parseFileArgs("extract", args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ExtractionTimeout())
	defer cancel()

	start := time.Now()
	text, id, err := extractText(ctx, a)
	if err != nil {
		return err
	}
	fmt.Printf("content_id: %s\n耗时: %v\n", id, time.Since(start))
	fmt.Printf("\n===== 提取的文本 (总计 %d 字符) =====\n", len([]rune(text)))
	fmt.Println(truncate(text, a.maxLen))
	return nil
}

func sliceCommand(args []string) error {
	a, err := parseFileArgs("slice", args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ExtractionTimeout())
	defer cancel()

	text, id, err := extractText(ctx, a)
	if err != nil {
		return err
	}
	sections := parser.NewSectionSlicer(a.cfg.Pipeline.MaxSectionChars, a.cfg.Pipeline.MinSectionChars).Slice(text)
	fmt.Printf("content_id: %s, 片段数: %d\n", id, len(sections))
	for _, s := range sections {
		fmt.Printf("\n[%d] %s (%d 字符)\n%s\n", s.Index+1, s.Label, len([]rune(s.Text)), truncate(s.Text, a.maxLen))
	}
	return nil
}

func fieldsCommand(args []string) error {
	fs, configPath, logLevel := newFlagSet("fields")
	kindStr := fs.StringP("kind", "k", "cv", "文档类型: cv 或 role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("fields 需要一个文件路径")
	}
	kind, err := types.ParseKind(*kindStr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, *logLevel)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return err
	}
	a := &fileArgs{cfg: cfg, path: abs, maxLen: -1}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.ExtractionTimeout())
	defer cancel()
	text, _, err := extractText(ctx, a)
	if err != nil {
		return err
	}
	comp, err := processor.NewComponents(ctx, cfg, nil)
	if err != nil {
		return err
	}
	result, err := comp.Fields.ExtractFields(ctx, kind, text, filepath.Base(abs))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result.Fields, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if result.Markdown {
		fmt.Fprintln(os.Stderr, "注意: 模型未返回 JSON，结果由 markdown 解析得到")
	}
	if len(result.Dropped) > 0 {
		fmt.Fprintf(os.Stderr, "被丢弃的取值: %v\n", result.Dropped)
	}
	return nil
}
