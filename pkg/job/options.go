package job

import (
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxWorkerFactor bounds pool growth to this multiple of the core worker count.
	DefaultMaxWorkerFactor = 4
	// DefaultWorkerKeepAlive is how long an extra worker waits for work before retiring.
	DefaultWorkerKeepAlive = time.Second
)

// FaultPolicy decides what happens after a task panics.
type FaultPolicy uint8

const (
	FaultPolicyUndefined FaultPolicy = iota // Used as the zero value
	FaultPolicyIsolate                      // Log and report the fault, forget the task, keep running
	FaultPolicyCrash                        // Log and report the fault, then re-panic on the worker
)

const (
	isolateString   = "isolate"
	crashString     = "crash"
	undefinedString = "undefined"
)

func (p FaultPolicy) String() string {
	switch p {
	case FaultPolicyIsolate:
		return isolateString
	case FaultPolicyCrash:
		return crashString
	case FaultPolicyUndefined:
		return undefinedString
	default:
		return undefinedString
	}
}

// ParseFaultPolicy converts a string to a FaultPolicy.
func ParseFaultPolicy(s string) FaultPolicy {
	switch strings.ToLower(s) {
	case isolateString:
		return FaultPolicyIsolate
	case crashString:
		return FaultPolicyCrash
	default:
		return FaultPolicyUndefined
	}
}

// SchedulerOptions configures a Scheduler. Zero values mean "use the default".
type SchedulerOptions struct {
	Workers         int           // Core workers, defaults to runtime.NumCPU()
	MaxWorkerFactor int           // Pool growth bound as a multiple of Workers
	WorkerKeepAlive time.Duration // Idle time before an extra worker retires
	FaultPolicy     FaultPolicy   // What to do when a task panics

	Logger     zerolog.Logger        // Zero value disables logging
	Registerer prometheus.Registerer // Where to register metrics, nil to skip registration

	// OnFault is called on the worker after a task panics, before the fault policy applies.
	OnFault func(task *Task, err error)
}

func newDefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		Workers:         runtime.NumCPU(),
		MaxWorkerFactor: DefaultMaxWorkerFactor,
		WorkerKeepAlive: DefaultWorkerKeepAlive,
		FaultPolicy:     FaultPolicyIsolate,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *SchedulerOptions) apply(newOpt SchedulerOptions) {
	if newOpt.Workers != 0 {
		opt.Workers = newOpt.Workers
	}
	if newOpt.MaxWorkerFactor != 0 {
		opt.MaxWorkerFactor = newOpt.MaxWorkerFactor
	}
	if newOpt.WorkerKeepAlive != 0 {
		opt.WorkerKeepAlive = newOpt.WorkerKeepAlive
	}
	if newOpt.FaultPolicy != FaultPolicyUndefined {
		opt.FaultPolicy = newOpt.FaultPolicy
	}
	opt.Logger = newOpt.Logger
	if newOpt.Registerer != nil {
		opt.Registerer = newOpt.Registerer
	}
	if newOpt.OnFault != nil {
		opt.OnFault = newOpt.OnFault
	}
}

// validate checks that all options are usable.
func (opt *SchedulerOptions) validate() error {
	if opt.Workers < 1 {
		return eris.Errorf("workers must be at least 1, got %d", opt.Workers)
	}
	if opt.MaxWorkerFactor < 1 {
		return eris.Errorf("max worker factor must be at least 1, got %d", opt.MaxWorkerFactor)
	}
	if opt.WorkerKeepAlive < 0 {
		return eris.New("worker keep-alive cannot be negative")
	}
	if opt.FaultPolicy == FaultPolicyUndefined {
		return eris.New("fault policy must be specified")
	}
	return nil
}

func (opt *SchedulerOptions) maxWorkers() int {
	return opt.Workers * opt.MaxWorkerFactor
}
