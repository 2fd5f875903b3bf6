package logging

import "testing"

func TestNewZapLoggerLevel(t *testing.T) {
	logger, err := NewZapLogger("debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatalf("debug level should be enabled")
	}
	logger, err = NewZapLogger("")
	if err != nil || logger.Core().Enabled(-1) {
		t.Fatalf("default level should be info: %v", err)
	}
	if _, err := NewZapLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
