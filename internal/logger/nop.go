package logger

// Nop discards everything. Handy for tests.
type Nop struct{}

func (n Nop) Named(string) Logger { return n }

func (n Nop) With(...interface{}) Logger { return n }

func (Nop) Debugf(string, ...interface{}) {}

func (Nop) Infof(string, ...interface{}) {}

func (Nop) Warnf(string, ...interface{}) {}

func (Nop) Errorf(string, ...interface{}) {}

func (Nop) Fatalf(string, ...interface{}) {}

func (Nop) Sync() error { return nil }
