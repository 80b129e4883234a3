package service

import "sort"

const secondsPerHour = 3600

// amountFor prices seconds at an hourly rate, rounding half up to a whole
// minor unit.
func amountFor(seconds, hourlyRate int64) int64 {
	return (seconds*hourlyRate + secondsPerHour/2) / secondsPerHour
}

// allocate splits total across items proportionally to their seconds using
// the largest remainder method, so the parts always sum to total.
func allocate(total int64, seconds []int64, hourlyRate int64) []int64 {
	parts := make([]int64, len(seconds))
	remainders := make([]int64, len(seconds))
	var sum int64
	for i, s := range seconds {
		share := s * hourlyRate
		parts[i] = share / secondsPerHour
		remainders[i] = share % secondsPerHour
		sum += parts[i]
	}

	order := make([]int, len(seconds))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})

	for i := 0; sum < total && len(order) > 0; i = (i + 1) % len(order) {
		parts[order[i]]++
		sum++
	}
	return parts
}
