package diag

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// 进程内计数器。名称：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计毫秒）
var counters sync.Map // string -> *atomic.Int64

func add(key string, d int64) {
	v, ok := counters.Load(key)
	if !ok {
		v, _ = counters.LoadOrStore(key, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(d)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	add(fmt.Sprintf("op_total{comp=%s,stage=%s,result=%s}", comp, stage, result), 1)
}

// IncError 按分类累加错误计数。
func IncError(comp string, code Code) {
	add(fmt.Sprintf("error_total{comp=%s,code=%s}", comp, code), 1)
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	add(fmt.Sprintf("op_duration_ms{comp=%s,stage=%s}", comp, stage), durMS)
}

// Snapshot 返回当前计数副本。
func Snapshot() map[string]int64 {
	out := map[string]int64{}
	counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// SnapshotKeys 按字典序返回已出现的计数名。
func SnapshotKeys() []string {
	snap := Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResetMetrics 清零（测试用）。
func ResetMetrics() {
	counters.Range(func(k, _ any) bool {
		counters.Delete(k)
		return true
	})
}
