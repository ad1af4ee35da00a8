package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
)

// exportCommand 读取 CSV 输出，写成 XLSX 或 CSV 副本
func exportCommand(args []string) error {
	fs, configPath, logLevel := newFlagSet("export")
	kindStr := fs.StringP("kind", "k", "cv", "文档类型: cv 或 role")
	out := fs.StringP("out", "o", "", "输出文件，扩展名决定格式 (.xlsx 或 .csv)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, *logLevel)
	if err != nil {
		return err
	}
	kind, err := types.ParseKind(*kindStr)
	if err != nil {
		return err
	}

	src := cfg.Output.ApplicantsCSV
	if kind == types.KindRole {
		src = cfg.Output.RolesCSV
	}
	sink, err := storage.NewCSVRowSink(src, kind, cfg.Output.PrefixedHeaders)
	if err != nil {
		return err
	}
	dst := *out
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".xlsx"
	}

	switch strings.ToLower(filepath.Ext(dst)) {
	case ".xlsx":
		data, err := storage.ExportRowsXLSX(kind, sink.Rows(), cfg.Output.PrefixedHeaders)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", dst, err)
		}
	case ".csv":
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := sink.WriteTo(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("写入 %s 失败: %w", dst, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("不支持的导出格式: %s", dst)
	}
	fmt.Printf("已导出 %d 行到 %s\n", len(sink.Rows()), dst)
	return nil
}
