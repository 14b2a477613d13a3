package series

// Percentile returns the p-th percentile of values using selection
// rather than a full sort. The element at index int((n-1)*p/100) of the
// ordered values is returned. values is not modified. Returns 0 for an
// empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	if p < 0 {
		p = 0
	}

	if p > 100 {
		p = 100
	}

	data := make([]float64, len(values))
	copy(data, values)

	k := int(float64(len(data)-1) * (p / 100.0))
	if k >= len(data) {
		k = len(data) - 1
	}

	return quickSelect(data, k)
}

// quickSelect returns the k-th smallest element, reordering arr in place.
func quickSelect(arr []float64, k int) float64 {
	left := 0
	right := len(arr) - 1

	for {
		if left == right {
			return arr[left]
		}

		pivotIndex := partition(arr, left, right)

		switch {
		case k == pivotIndex:
			return arr[k]
		case k < pivotIndex:
			right = pivotIndex - 1
		default:
			left = pivotIndex + 1
		}
	}
}

// partition uses the middle element as pivot and returns its final index.
func partition(arr []float64, left, right int) int {
	pivotIndex := left + (right-left)/2
	pivot := arr[pivotIndex]

	arr[pivotIndex], arr[right] = arr[right], arr[pivotIndex]
	storeIndex := left

	for i := left; i < right; i++ {
		if arr[i] < pivot {
			arr[storeIndex], arr[i] = arr[i], arr[storeIndex]
			storeIndex++
		}
	}

	arr[storeIndex], arr[right] = arr[right], arr[storeIndex]

	return storeIndex
}
