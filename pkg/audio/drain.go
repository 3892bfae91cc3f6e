package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to stop a streaming producer from leaking its goroutine when the
// consumer gives up partway, e.g. the Chunks channel of an abandoned
// synthesis stream.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
