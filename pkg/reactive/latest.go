package reactive

// SendLatest puts v on ch without blocking. When ch is full the oldest queued
// value is dropped, so a slow reader always ends up with the newest one.
// ch must be buffered and v must be its only sender at a time; observer
// callbacks of one Readable satisfy that.
func SendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
