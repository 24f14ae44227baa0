package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer blocked on a [Stream] whose remaining chunks
// are no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
