package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/serkansepil/agent-planner-sub001/llm/budget"
)

// DirectoryFile 目录文件格式
type DirectoryFile struct {
	Agents     []Agent     `json:"agents" yaml:"agents"`
	Workspaces []Workspace `json:"workspaces" yaml:"workspaces"`
}

// LoadOption 加载选项
type LoadOption func(*loadOptions)

type loadOptions struct {
	rateLimits budget.RateLimits
}

// WithDefaultRateLimits 为未声明 rate_limits 的智能体填充默认限流
func WithDefaultRateLimits(limits budget.RateLimits) LoadOption {
	return func(o *loadOptions) { o.rateLimits = limits }
}

// LoadDirectoryFile 从 .yaml/.yml/.json 文件加载目录
func LoadDirectoryFile(path string, logger *zap.Logger, opts ...LoadOption) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent directory file: %w", err)
	}
	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
	return LoadDirectoryBytes(data, format, logger, opts...)
}

// LoadDirectoryBytes 解析 "yaml" 或 "json" 格式的目录
func LoadDirectoryBytes(data []byte, format string, logger *zap.Logger, opts ...LoadOption) (*MemoryDirectory, error) {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}
	var file DirectoryFile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q, use \"yaml\" or \"json\"", format)
	}

	dir := NewMemoryDirectory(logger)
	for i := range file.Agents {
		if file.Agents[i].RateLimits == (budget.RateLimits{}) {
			file.Agents[i].RateLimits = lo.rateLimits
		}
		if err := dir.PutAgent(&file.Agents[i]); err != nil {
			return nil, err
		}
	}
	for i := range file.Workspaces {
		if err := dir.PutWorkspace(&file.Workspaces[i]); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
