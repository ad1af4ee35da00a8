package types

import "time"

// FileState 单个文件在批处理中的状态
type FileState int

const (
	StatePending FileState = iota
	StateHashing
	StateSkipped
	StateExtracting
	StateFielding
	StateSlicing
	StateEmbedding
	StateStoring
	StateDone
	StateFailed
)

var fileStateNames = map[FileState]string{
	StatePending:    "Pending",
	StateHashing:    "Hashing",
	StateSkipped:    "Skipped",
	StateExtracting: "Extracting",
	StateFielding:   "Fielding",
	StateSlicing:    "Slicing",
	StateEmbedding:  "Embedding",
	StateStoring:    "Storing",
	StateDone:       "Done",
	StateFailed:     "Failed",
}

func (s FileState) String() string {
	if name, ok := fileStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal 是否为终态
func (s FileState) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// MarshalText 以名称序列化
func (s FileState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FileFailure 失败文件及原因
type FileFailure struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Summary 一次批处理的汇总
type Summary struct {
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    []FileFailure `json:"failed"`
	// Warnings 记录未导致失败的降级，例如某个存储不可用
	Warnings []FileFailure `json:"warnings,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Canceled bool          `json:"canceled"`
}

// FailedCount 失败数
func (s Summary) FailedCount() int { return len(s.Failed) }

// Progress 运行中的进度快照
type Progress struct {
	Done      int                  `json:"done"`
	Total     int                  `json:"total"`
	Processed int                  `json:"processed"`
	Skipped   int                  `json:"skipped"`
	Failed    int                  `json:"failed"`
	Elapsed   time.Duration        `json:"elapsed"`
	States    map[string]FileState `json:"states"`
	Finished  bool                 `json:"finished"`
}
