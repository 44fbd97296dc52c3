// Package recorder writes frames from the pipeline to recording files.
package recorder

// Recorder receives frames between StartRecording and StopRecording.
type Recorder interface {
	StopRecording() error
	StartRecording() error
	WriteFrame([]byte) error
	CheckCanRecord() error
}

type NoWriteRecorder struct {
}

func (*NoWriteRecorder) StopRecording() error    { return nil }
func (*NoWriteRecorder) StartRecording() error   { return nil }
func (*NoWriteRecorder) WriteFrame([]byte) error { return nil }
func (*NoWriteRecorder) CheckCanRecord() error   { return nil }
