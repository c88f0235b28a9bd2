package verify

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
)

// Result messages.
const (
	MsgVerified            = "Signature verified successfully"
	AlternativeAnnotation  = "verified via alternative method"
	MsgVerifiedAlternative = MsgVerified + " (" + AlternativeAnnotation + ")"
)

// Request is one verification.
type Request struct {
	// Signature is the base64 or PEM encoded CMS.
	Signature string

	// Original is the signed document for detached signatures. Empty means
	// attached verification.
	Original []byte

	// Keystore, when set with Password, is loaded into the session before
	// verifying.
	Keystore []byte
	Password string
	Storage  provider.StorageKind
}

// Attempt records one strategy tried and its outcome.
type Attempt struct {
	Strategy Strategy
	Flags    provider.Flags
	Err      error
}

// Result is the outcome of a verification.
type Result struct {
	Success bool
	Message string
	Mode    Mode

	// Info and Content are set on success.
	Info    *provider.VerificationInfo
	Content []byte

	// Strategy is the strategy that succeeded.
	Strategy    Strategy
	Alternative bool

	// Class and Err describe a failure. Err is the primary attempt error.
	Class Class
	Err   error

	// Attempts lists every strategy tried, in order.
	Attempts []Attempt
}

// Engine runs verifications against a shared provider.
type Engine struct {
	handle *provider.Handle
	logger *log.Logger
}

// NewEngine returns an engine using h. A nil logger discards output.
func NewEngine(h *provider.Handle, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{handle: h, logger: logger}
}

// Verify decodes the signature and verifies it. Input errors (bad base64,
// keystore failures, cancellation) are returned as errors; a signature that
// does not verify yields a Result with Success false.
func (e *Engine) Verify(ctx context.Context, req *Request) (*Result, error) {
	sig, err := payload.Normalize(req.Signature)
	if err != nil {
		return nil, err
	}
	format := "Base64"
	if sig.HadPEMArmor {
		format = "PEM"
	}
	e.logger.Printf("verify: signature format %s, %d bytes", format, len(sig.Bytes))

	mode := Attached
	if len(req.Original) > 0 {
		mode = Detached
	}

	sess, err := e.handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	if len(req.Keystore) > 0 && req.Password != "" {
		if _, err := sess.LoadIdentity(ctx, req.Storage, req.Keystore, req.Password); err != nil {
			return nil, fmt.Errorf("failed to load keystore: %w", err)
		}
		e.logger.Printf("verify: keystore loaded for verification")
	}

	res := &Result{Mode: mode}
	e.logger.Printf("verify: attempting %s signature verification", mode)

	primaryErr := e.try(ctx, sess, res, Primary, sig, req.Original, mode)
	if primaryErr == nil {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if provider.IsUnrecognizedFormat(primaryErr) {
		e.logger.Printf("verify: standard verification failed: %v, attempting alternative approaches", primaryErr)
		for _, s := range fallbackStrategies {
			if e.try(ctx, sess, res, s, sig, req.Original, mode) == nil {
				return res, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e.logger.Printf("verify: all verification attempts failed")
	}

	res.Err = primaryErr
	res.Class, res.Message = Classify(primaryErr)
	return res, nil
}

// try runs one strategy and records it. On success res is completed.
func (e *Engine) try(ctx context.Context, sess *provider.Session, res *Result, s Strategy, sig *payload.Normalized, original []byte, mode Mode) error {
	c := s.plan(sig, original, mode)
	info, data, err := sess.Verify(ctx, c.content, c.signature, c.flags)
	res.Attempts = append(res.Attempts, Attempt{Strategy: s, Flags: c.flags, Err: err})
	if err != nil {
		if s != Primary {
			e.logger.Printf("verify: alternative %s (%s) failed: %v", s, c.flags, err)
		}
		return err
	}

	res.Success = true
	res.Info = info
	res.Content = data
	res.Strategy = s
	res.Alternative = s != Primary
	res.Message = MsgVerified
	if res.Alternative {
		res.Message = MsgVerifiedAlternative
		e.logger.Printf("verify: verified with alternative %s (%s)", s, c.flags)
	}
	return nil
}
