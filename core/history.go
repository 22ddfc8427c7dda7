package core

import "sort"

// OrderStatusEvents sorts a claim's history by timestamp, breaking ties with
// (block number, log index) so inbound events sharing a timestamp keep their
// on-chain order. The sort is stable: repeated reads of the same log yield
// the same sequence.
func OrderStatusEvents(events []StatusEvent) []StatusEvent {
	ordered := append([]StatusEvent(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		left, right := ordered[i], ordered[j]
		if !left.Timestamp.Equal(right.Timestamp) {
			return left.Timestamp.Before(right.Timestamp)
		}
		if left.BlockNumber != right.BlockNumber {
			return left.BlockNumber < right.BlockNumber
		}
		return left.LogIndex < right.LogIndex
	})
	return ordered
}
