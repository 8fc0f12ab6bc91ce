package session

import "context"

// Capture acquires the microphone.
type Capture interface {
	// Open starts a capture stream. Failures should wrap
	// ErrCaptureUnavailable.
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers mono float32 blocks at the device's native rate until
// Stop is called. Blocks is closed when the stream ends.
type Stream interface {
	Blocks() <-chan []float32
	SampleRate() int
	Stop() error
}

// Response is what the transcription service returns for one utterance.
type Response struct {
	Transcription string
	ResponseText  string
	// AudioReply is an encoded audio reply (mp3 in practice), if any.
	AudioReply []byte
}

// Transport ships an encoded WAV to the transcription/response service.
type Transport interface {
	Send(ctx context.Context, wav []byte) (Response, error)
}

// Observer is notified of everything the controller surfaces. Callbacks
// run on the controller goroutine.
type Observer interface {
	OnTranscription(text string)
	OnResponse(text string, audio []byte)
	OnStateChange(s State)
	OnError(err error)
}

// NopObserver ignores every event; embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnTranscription(string) {}
func (NopObserver) OnResponse(string, []byte) {}
func (NopObserver) OnStateChange(State) {}
func (NopObserver) OnError(error) {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) OnTranscription(text string) {
	for _, x := range o {
		x.OnTranscription(text)
	}
}

func (o Observers) OnResponse(text string, audio []byte) {
	for _, x := range o {
		x.OnResponse(text, audio)
	}
}

func (o Observers) OnStateChange(s State) {
	for _, x := range o {
		x.OnStateChange(s)
	}
}

func (o Observers) OnError(err error) {
	for _, x := range o {
		x.OnError(err)
	}
}
