package util

// EachBatch 按 size 切分 items 依次交给 fn，fn 出错即停止。批次是 items 的子切片，fn 不应修改。
func EachBatch[T any](items []T, size int, fn func(batch []T) error) error {
	if size <= 0 {
		size = len(items)
	}
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		if err := fn(items[start:end:end]); err != nil {
			return err
		}
	}
	return nil
}
