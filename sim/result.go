package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ResultMap holds the named results of one experiment run. Values are
// numbers, *SummaryStat aggregates, arbitrary values, or nil.
type ResultMap map[string]any

// Result keys every executed experiment carries.
const (
	KeyRunTime          = "runTime"
	KeyNumTasks         = "numTasks"
	KeyAborted          = "expAborted"
	KeyException        = "exception"
	KeyExceptionMessage = "exceptionMessage"
)

// Keys returns the map's keys in sorted order.
func (r ResultMap) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsAborted reports whether the map carries a non-zero abort flag.
func (r ResultMap) IsAborted() bool {
	v, ok := ToFloat(r[KeyAborted])
	return ok && v > 0
}

// ToFloat extracts a float64 from any Go numeric kind.
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// Execute runs exp through its lifecycle and always returns a result map.
//
// The map carries KeyRunTime (seconds), KeyAborted (1 if the experiment
// aborted itself, failed or ctx was cancelled, else 0) and, on failure, KeyException
// and KeyExceptionMessage. Panics inside Run are recovered and reported the
// same way. The returned error is meant for top-level callers; orchestrators
// read the map instead.
func Execute(ctx context.Context, exp Experiment) (res ResultMap, err error) {
	b := exp.Base()
	b.setState(StateRunning)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in experiment %s: %v", b.Name(), p)
			res = nil
		}
		if res == nil {
			res = make(ResultMap)
		}
		res[KeyRunTime] = time.Since(start).Seconds()

		aborted := b.Aborted() || ctx.Err() != nil || errors.Is(err, ErrAborted)
		switch {
		case aborted:
			b.setState(StateAborted)
			res[KeyAborted] = 1
		case err != nil:
			b.setState(StateError)
			res[KeyAborted] = 1
		default:
			b.setState(StateFinished)
			res[KeyAborted] = 0
		}
		if err != nil {
			res[KeyException] = err.Error()
			res[KeyExceptionMessage] = rootMessage(err)
			logrus.Debugf("experiment %s ended with %v", b.Name(), err)
		}
	}()

	return exp.Run(ctx)
}

// CancelledResult is the placeholder map for a task that was cancelled
// before it started running.
func CancelledResult(exp Experiment, cause error) ResultMap {
	exp.Base().setState(StateAborted)
	res := ResultMap{
		KeyRunTime: 0.0,
		KeyAborted: 1,
	}
	if cause != nil {
		res[KeyException] = cause.Error()
		res[KeyExceptionMessage] = rootMessage(cause)
	}
	return res
}

// rootMessage returns the innermost wrapped error's text.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
