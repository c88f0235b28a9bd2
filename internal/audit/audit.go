package audit

import (
	"fmt"
	"sync"
)

var (
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex
	enabled      bool
)

// Init installs w as the process-wide audit writer. A nil writer disables
// audit logging.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}
	globalWriter = w
	enabled = true
	return nil
}

// InitFile installs a FileWriter for path. An empty path disables auditing.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	return Init(w)
}

// Close closes the global writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled reports whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an event to the global writer.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog writes an event and wraps any failure so the caller can fail the
// parent operation.
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// LogKeystoreLoaded logs a keystore load.
func LogKeystoreLoaded(storage, subject, serial string, err error) error {
	event := NewEvent(EventKeystoreLoaded, ResultFrom(err == nil)).
		WithObject(Object{Type: "keystore", Subject: subject, Serial: serial}).
		WithContext(Context{Storage: storage, Reason: reasonOf(err)})
	return MustLog(event)
}

// LogSign logs creation of a new signature.
func LogSign(name, subject string, detached, timestamped bool, err error) error {
	event := NewEvent(EventCMSSign, ResultFrom(err == nil)).
		WithObject(Object{Type: "cms", Name: name, Subject: subject}).
		WithContext(Context{Detached: detached, Timestamped: timestamped, Signers: 1, Reason: reasonOf(err)})
	return MustLog(event)
}

// LogCoSign logs a co-signature added to an existing CMS.
func LogCoSign(subject string, signers int, err error) error {
	event := NewEvent(EventCMSCoSign, ResultFrom(err == nil)).
		WithObject(Object{Type: "cms", Subject: subject}).
		WithContext(Context{Signers: signers, Reason: reasonOf(err)})
	return MustLog(event)
}

// LogVerify logs a verification outcome.
func LogVerify(detached bool, signers int, strategy string, success bool, reason string) error {
	event := NewEvent(EventCMSVerify, ResultFrom(success)).
		WithObject(Object{Type: "cms"}).
		WithContext(Context{Detached: detached, Signers: signers, Strategy: strategy, Reason: reason})
	return MustLog(event)
}

// LogExtract logs content extraction.
func LogExtract(err error) error {
	event := NewEvent(EventCMSExtract, ResultFrom(err == nil)).
		WithObject(Object{Type: "cms"}).
		WithContext(Context{Reason: reasonOf(err)})
	return MustLog(event)
}

// LogBatchSign logs the summary of a batch.
func LogBatchSign(subject string, documents, failed int, err error) error {
	event := NewEvent(EventBatchSign, ResultFrom(err == nil && failed == 0)).
		WithObject(Object{Type: "batch", Subject: subject}).
		WithContext(Context{Documents: documents, Failed: failed, Reason: reasonOf(err)})
	return MustLog(event)
}
