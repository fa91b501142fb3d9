package recorder

import "sort"

// Compacted is a row set as one key list plus positional value rows.
type Compacted struct {
	Keys   []string `json:"keys"`
	Values [][]any  `json:"values"`
}

// Compact pairs column names with positional rows.
func Compact(columns []string, rows [][]any) Compacted {
	if len(rows) == 0 {
		return Compacted{Keys: []string{}, Values: [][]any{}}
	}
	return Compacted{Keys: columns, Values: rows}
}

// CompactMaps takes keys from the first row (sorted) and emits each row's
// values in that order. Keys missing from later rows come out as nil.
func CompactMaps(rows []map[string]any) Compacted {
	if len(rows) == 0 {
		return Compacted{Keys: []string{}, Values: [][]any{}}
	}

	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		v := make([]any, len(keys))
		for i, k := range keys {
			v[i] = row[k]
		}
		values = append(values, v)
	}
	return Compacted{Keys: keys, Values: values}
}
