package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MemoryChunkStore 内存分块存储（用于测试和小规模部署）
type MemoryChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
	logger *zap.Logger
}

// NewMemoryChunkStore 创建内存分块存储
func NewMemoryChunkStore(logger *zap.Logger) *MemoryChunkStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryChunkStore{
		chunks: make(map[string]Chunk),
		logger: logger.With(zap.String("component", "chunk_store")),
	}
}

// Add 添加或替换分块
func (s *MemoryChunkStore) Add(_ context.Context, chunks ...Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk of document %s has no id", c.DocumentID)
		}
		s.chunks[c.ID] = c
	}
	s.logger.Debug("chunks added", zap.Int("count", len(chunks)), zap.Int("total", len(s.chunks)))
	return nil
}

// LoadFile 从 JSON 数组文件载入分块，返回载入数量
func (s *MemoryChunkStore) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read chunks file: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return 0, fmt.Errorf("parse chunks file %s: %w", path, err)
	}
	if err := s.Add(ctx, chunks...); err != nil {
		return 0, err
	}
	s.logger.Info("chunks loaded", zap.String("path", path), zap.Int("count", len(chunks)))
	return len(chunks), nil
}

// DeleteDocument 删除文档的全部分块，返回删除数量
func (s *MemoryChunkStore) DeleteDocument(_ context.Context, documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
			n++
		}
	}
	return n
}

// Count 返回分块数量
func (s *MemoryChunkStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// ListChunks 返回满足过滤条件的分块，按 (documentID, chunkIndex) 排序
func (s *MemoryChunkStore) ListChunks(ctx context.Context, filters Filters) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if filters.Match(c) {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out, nil
}
