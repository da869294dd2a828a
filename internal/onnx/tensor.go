package onnx

// TensorStats returns the minimum, maximum and mean of a normalized input
// tensor. A correctly scaled tensor stays within [0,1].
func TensorStats(data []float32) (lo, hi, mean float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	lo, hi = data[0], data[0]
	var sum float64
	for _, v := range data {
		lo, hi = min(lo, v), max(hi, v)
		sum += float64(v)
	}
	return lo, hi, float32(sum / float64(len(data)))
}
