package ncproto

import "errors"

// ErrCode is the negative-integer error taxonomy of §7, carried in every
// reply's union alongside the header's success/fail opcode tag.
type ErrCode int32

const (
	OK ErrCode = 0

	EINVAL     ErrCode = -1 // bad name / pid / nodenum / block number
	ENOENT     ErrCode = -2 // lookup miss
	EAGAIN     ErrCode = -3 // table or pool full, or IPC_NOWAIT would block
	ENOMEM     ErrCode = -4 // resource exhaustion
	EPERM      ErrCode = -5 // wrong owner, bad pgid
	ESRCH      ErrCode = -6 // target pid absent
	EFAULT     ErrCode = -7 // bogus block targeting, transfer still completed
	ESHUTDOWN  ErrCode = -8 // server exited while a request was still pending
)

var errByCode = map[ErrCode]error{
	OK:        nil,
	EINVAL:    errors.New("invalid argument"),
	ENOENT:    errors.New("no such entry"),
	EAGAIN:    errors.New("resource temporarily unavailable"),
	ENOMEM:    errors.New("out of memory"),
	EPERM:     errors.New("operation not permitted"),
	ESRCH:     errors.New("no such process"),
	EFAULT:    errors.New("bad address"),
	ESHUTDOWN: errors.New("server is shutting down"),
}

// Err converts a wire ErrCode into an idiomatic Go error, nil for OK. Each
// code always maps to the same error value, so stub callers compare with
// errors.Is(err, ncproto.ENOENT.Err()) and the like.
func (c ErrCode) Err() error {
	if c == OK {
		return nil
	}
	if err, ok := errByCode[c]; ok {
		return err
	}
	return errors.New("unknown error code")
}

func (c ErrCode) String() string {
	if err := c.Err(); err != nil {
		return err.Error()
	}
	return "OK"
}
