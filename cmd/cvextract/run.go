package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cv-extractor/internal/processor"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
)

// runCommand 对输入目录跑一次批处理，Ctrl-C 停止派发新文件
func runCommand(args []string) error {
	fs, configPath, logLevel := newFlagSet("run")
	kindStr := fs.StringP("kind", "k", "cv", "文档类型: cv 或 role")
	folder := fs.StringP("folder", "f", "", "输入目录，为空时使用配置中的目录")
	concurrency := fs.Int("concurrency", 0, "同时处理的文件数，0 使用配置值")
	summaryPath := fs.String("summary", "", "把汇总结果写成 JSON 文件")
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
	dir := *folder
	if dir == "" {
		dir = cfg.Folders.Applicants
		if kind == types.KindRole {
			dir = cfg.Folders.Roles
		}
	}
	files, err := processor.ListFiles(dir)
	if err != nil {
		return fmt.Errorf("读取输入目录失败: %w", err)
	}
	fmt.Printf("目录 %s 中有 %d 个待处理文件\n", dir, len(files))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	comp, err := processor.NewComponents(ctx, cfg, store)
	if err != nil {
		return err
	}
	var opts []processor.SettingOpt
	if *concurrency > 0 {
		opts = append(opts, processor.WithConcurrency(*concurrency))
	}
	orch, err := processor.NewBatchOrchestrator(comp, processor.SettingsFromConfig(cfg), opts...)
	if err != nil {
		return err
	}

	summary := orch.Run(ctx, kind, files, func(index, total int, file string, state types.FileState) {
		if state.Terminal() {
			fmt.Printf("[%d/%d] %s: %s\n", index+1, total, file, state)
		}
	})
	printSummary(summary)

	if *summaryPath != "" {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*summaryPath, data, 0o644); err != nil {
			return fmt.Errorf("保存汇总失败: %w", err)
		}
	}
	if summary.FailedCount() > 0 {
		return fmt.Errorf("%d 个文件处理失败", summary.FailedCount())
	}
	return nil
}

func printSummary(s types.Summary) {
	fmt.Println("\n===== 处理结果 =====")
	fmt.Printf("总数: %d  新处理: %d  跳过: %d  失败: %d  耗时: %s\n",
		s.Total, s.Processed, s.Skipped, s.FailedCount(), s.Elapsed)
	if s.Canceled {
		fmt.Println("任务已取消，未开始的文件没有处理")
	}
	for _, f := range s.Failed {
		fmt.Printf("  失败 %s: %s\n", f.File, f.Reason)
	}
	for _, w := range s.Warnings {
		fmt.Printf("  警告 %s: %s\n", w.File, w.Reason)
	}
}
