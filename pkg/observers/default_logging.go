package observers

// NewDefaultLoggingObserver creates a logging observer at LogInfo that writes
// through slog.Default()
func NewDefaultLoggingObserver() *LoggingObserver {
	return NewLoggingObserver(nil, LogInfo, "admitflow")
}
