package context

import (
	"testing"

	"pgregory.net/rapid"
)

// 对任意写入序列，版本号严格递增，读取总是返回最后一次写入的值
func TestProperty_VersionsMonotonicAndLastWriteVisible(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := newTestContext().Shared()
		keys := []string{"a", "b", "c"}

		lastVersion := map[string]uint64{}
		lastValue := map[string]int{}
		present := map[string]bool{}

		ops := rapid.IntRange(1, 60).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			key := rapid.SampledFrom(keys).Draw(rt, "key")
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				e := s.Set(key, i)
				if e.Version <= lastVersion[key] {
					rt.Fatalf("version did not increase: %d -> %d", lastVersion[key], e.Version)
				}
				lastVersion[key] = e.Version
				lastValue[key] = i
				present[key] = true
			case 1:
				if s.Delete(key) != present[key] {
					rt.Fatalf("delete(%s) disagreed with model", key)
				}
				if present[key] {
					lastVersion[key]++
				}
				present[key] = false
			case 2:
				e, ok := s.Entry(key)
				if ok != present[key] {
					rt.Fatalf("presence of %s: got %v want %v", key, ok, present[key])
				}
				if ok && (e.Value != lastValue[key] || e.Version != lastVersion[key]) {
					rt.Fatalf("entry %s = %v@%d, want %v@%d", key, e.Value, e.Version, lastValue[key], lastVersion[key])
				}
			}
		}
	})
}
