package duckdb

import (
	"encoding/json"
	"time"

	"github.com/spf13/cast"

	"aslgloss/pkg/contract"
)

// DuckDB 列类型。
const (
	typeVarchar   = "VARCHAR"
	typeBigint    = "BIGINT"
	typeUbigint   = "UBIGINT"
	typeDouble    = "DOUBLE"
	typeBoolean   = "BOOLEAN"
	typeBlob      = "BLOB"
	typeTimestamp = "TIMESTAMP"
)

// InferTypes 由各列非空值的 Go 类型决定 DuckDB 列类型。
// 整数与浮点混合时取 DOUBLE；其他混合或全空列为 VARCHAR。
func InferTypes(ds contract.Dataset) []string {
	types := make([]string, len(ds.Columns))
	for i := range ds.Columns {
		t := ""
		for _, r := range ds.Records {
			if i >= len(r.Values) || r.Values[i] == nil {
				continue
			}
			vt := valueType(r.Values[i])
			switch {
			case t == "":
				t = vt
			case t != vt:
				t = widen(t, vt)
			}
			if t == typeVarchar {
				break
			}
		}
		if t == "" {
			t = typeVarchar
		}
		types[i] = t
	}
	return types
}

func valueType(v any) string {
	switch v.(type) {
	case string:
		return typeVarchar
	case bool:
		return typeBoolean
	case int, int8, int16, int32, int64:
		return typeBigint
	case uint, uint8, uint16, uint32, uint64:
		return typeUbigint
	case float32, float64:
		return typeDouble
	case []byte:
		return typeBlob
	case time.Time:
		return typeTimestamp
	}
	return typeVarchar
}

func numeric(t string) bool { return t == typeBigint || t == typeUbigint || t == typeDouble }

func widen(a, b string) string {
	if numeric(a) && numeric(b) {
		return typeDouble
	}
	return typeVarchar
}

// convert 将值转为列类型对应的 Go 值；VARCHAR 列中的复合值以 JSON 文本保存。
func convert(v any, typ string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case typeBigint:
		return cast.ToInt64E(v)
	case typeUbigint:
		return cast.ToUint64E(v)
	case typeDouble:
		return cast.ToFloat64E(v)
	case typeVarchar:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return cast.ToStringE(x)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}
