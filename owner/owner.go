// Package owner implements the policy-gated named-resource sandbox. An
// Owner holds named resources and named functions; Execute looks up a
// function and a resource under a read lock and then dispatches the function
// against the resource, refusing calls whose declared needs the owner's
// policy denies. Collaborators use owners as
// actors: all access to a shared resource funnels through one owner, so no
// direct cross-thread access is ever taken.
package owner

import (
	"errors"
	"sync"

	"github.com/joeycumines/go-ttak/tick"
)

// Policy flags. An owner created with a Deny* flag refuses Execute calls
// whose function declared the corresponding need.
type Policy uint32

const (
	// DenyVolatile refuses functions that touch memory flagged volatile or
	// otherwise outside the runtime's safety guarantees.
	DenyVolatile Policy = 1 << iota

	// DenyThreading refuses functions that spawn goroutines.
	DenyThreading

	// DenyExternal refuses functions that follow pointers the owner does
	// not hold.
	DenyExternal
)

// Func is a registered named function: it receives the named resource and
// the caller's arguments.
type Func func(resource any, args any) (any, error)

var (
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New(`owner: name already registered`)

	// ErrUnknown is returned when a function or resource name is not
	// registered.
	ErrUnknown = errors.New(`owner: unknown name`)

	// ErrDenied is returned when policy refuses a function's declared
	// needs.
	ErrDenied = errors.New(`owner: denied by policy`)

	// ErrClosed is returned after Destroy.
	ErrClosed = errors.New(`owner: destroyed`)
)

type function struct {
	fn    Func
	needs Policy
}

type resource struct {
	value   any
	cleanup func(any)
}

// Owner is one sandbox. Registration takes the write lock; dispatch takes
// the read lock.
type Owner struct {
	mu        sync.RWMutex
	resources map[string]resource
	functions map[string]function
	policy    Policy
	created   tick.Tick
	closed    bool
}

// New creates an owner with the given policy flags.
func New(policy Policy) *Owner {
	return &Owner{
		resources: make(map[string]resource),
		functions: make(map[string]function),
		policy:    policy,
		created:   tick.Now(),
	}
}

// RegisterResource stores a named resource. cleanup, if non-nil, runs at
// Destroy. Names are unique within an owner.
func (o *Owner) RegisterResource(name string, value any, cleanup func(any)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, ok := o.resources[name]; ok {
		return ErrDuplicate
	}
	o.resources[name] = resource{value: value, cleanup: cleanup}
	return nil
}

// RegisterFunc stores a named function together with the policy needs it
// declares. A function registered with needs the owner denies registers
// fine; Execute is where refusal happens.
func (o *Owner) RegisterFunc(name string, fn Func, needs Policy) error {
	if fn == nil {
		return ErrUnknown
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, ok := o.functions[name]; ok {
		return ErrDuplicate
	}
	o.functions[name] = function{fn: fn, needs: needs}
	return nil
}

// Execute looks up the function and resource under the read lock and
// dispatches fn(resource, args). Policy is checked before dispatch.
func (o *Owner) Execute(funcName, resourceName string, args any) (any, error) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return nil, ErrClosed
	}
	f, okF := o.functions[funcName]
	r, okR := o.resources[resourceName]
	o.mu.RUnlock()
	if !okF || !okR {
		return nil, ErrUnknown
	}
	if f.needs&o.policy != 0 {
		return nil, ErrDenied
	}
	return f.fn(r.value, args)
}

// CreatedTick returns the owner's creation tick.
func (o *Owner) CreatedTick() tick.Tick { return o.created }

// Destroy releases the owner: every resource's cleanup runs once, and all
// further calls fail with ErrClosed. Idempotent.
func (o *Owner) Destroy() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	res := o.resources
	o.resources = map[string]resource{}
	o.functions = map[string]function{}
	o.mu.Unlock()
	for _, r := range res {
		if r.cleanup != nil {
			r.cleanup(r.value)
		}
	}
}
