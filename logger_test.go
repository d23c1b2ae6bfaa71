package reliable

import "testing"

type recordingLogger struct {
	NopLogger
	infos []string
}

func (l *recordingLogger) Info(msg string, _ ...any) { l.infos = append(l.infos, msg) }

func TestLoggerOrNop(t *testing.T) {
	if _, ok := LoggerOrNop(nil).(NopLogger); !ok {
		t.Fatal("expected NopLogger for nil logger")
	}

	rec := &recordingLogger{}
	LoggerOrNop(rec).Info("kept")
	if len(rec.infos) != 1 || rec.infos[0] != "kept" {
		t.Fatalf("expected configured logger to be used, got %v", rec.infos)
	}
}
