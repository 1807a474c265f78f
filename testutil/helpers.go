// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供跨包共享的测试辅助函数
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	db := testutil.NewTestDB(t)
//	content, final, err := testutil.CollectStream(events)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 🗄️ 数据库辅助
// =============================================================================

// NewTestDB 打开独立的内存 sqlite 数据库，测试结束时关闭。
// 表结构由调用方通过 AutoMigrate 创建。
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	// 内存库按连接隔离，固定为单连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// =============================================================================
// 🌊 流式辅助
// =============================================================================

// CollectStream 读完事件流，返回拼接内容、最终结果与首个错误
func CollectStream(ch <-chan dispatch.StreamEvent) (string, *dispatch.Result, error) {
	var (
		sb    strings.Builder
		final *dispatch.Result
		first error
	)
	for ev := range ch {
		if ev.Err != nil && first == nil {
			first = ev.Err
		}
		sb.WriteString(ev.Content)
		if ev.Done && ev.Result != nil {
			final = ev.Result
		}
	}
	return sb.String(), final, first
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
