package logunit

import (
	"fmt"
)

// ReqKind discriminates the request table of spec.md §4.F. This,
// together with dispatchTable below, replaces original_source's
// annotation-scanning-plus-reflection handler lookup
// (@ServerHandler(type=...) + PreconditionServerMsgHandler) with a
// static Go table — no runtime introspection, per spec.md §9's design
// note.
type ReqKind int

const (
	ReqWrite ReqKind = iota
	ReqWriteReplex
	ReqRead
	ReqCommit
	ReqFillHole
	ReqTrim
	ReqForceGC
	ReqSetGCInterval
)

func (k ReqKind) String() string {
	switch k {
	case ReqWrite:
		return "WRITE"
	case ReqWriteReplex:
		return "WRITE_REPLEX"
	case ReqRead:
		return "READ_REQUEST"
	case ReqCommit:
		return "COMMIT"
	case ReqFillHole:
		return "FILL_HOLE"
	case ReqTrim:
		return "TRIM"
	case ReqForceGC:
		return "FORCE_GC"
	case ReqSetGCInterval:
		return "GC_INTERVAL"
	default:
		return "UNKNOWN"
	}
}

// Request is the tagged-union envelope an eventual router (out of
// scope here) would decode off the wire and hand to Dispatch. Exactly
// one field matching Kind is meaningful; the zero value of the others
// is ignored.
type Request struct {
	Kind ReqKind

	Write         WriteRequest
	WriteReplex   WriteReplexRequest
	Read          ReadRequest
	Commit        CommitRequest
	FillHole      FillHoleRequest
	Trim          TrimRequest
	SetGCInterval SetGCIntervalRequest
}

// Response is Dispatch's uniform result: exactly one of Err or a typed
// payload (for ReqRead) is meaningful.
type Response struct {
	Err  error
	Read map[uint64]interface{}
}

// dispatchTable maps each ReqKind to the Unit method that services it.
// Built once, at package init, and never mutated — the static
// counterpart to original_source's reflection-built handler map.
var dispatchTable = map[ReqKind]func(*Unit, Request) Response{
	ReqWrite: func(u *Unit, r Request) Response {
		req := r.Write
		return Response{Err: u.Write(req.GlobalAddress, req.Payload, req.Streams, req.Backpointers)}
	},
	ReqWriteReplex: func(u *Unit, r Request) Response {
		req := r.WriteReplex
		return Response{Err: u.WriteReplex(req.StreamAddresses, req.Payload, req.Backpointers)}
	},
	ReqRead: func(u *Unit, r Request) Response {
		req := r.Read
		entries, err := u.Read(req.Low, req.High, req.Stream, req.StreamSet)
		if err != nil {
			return Response{Err: err}
		}
		out := make(map[uint64]interface{}, len(entries))
		for a, e := range entries {
			out[a] = e
		}
		return Response{Read: out}
	},
	ReqCommit: func(u *Unit, r Request) Response {
		req := r.Commit
		return Response{Err: u.Commit(req.Address, req.Commit)}
	},
	ReqFillHole: func(u *Unit, r Request) Response {
		return Response{Err: u.FillHole(r.FillHole.Address)}
	},
	ReqTrim: func(u *Unit, r Request) Response {
		u.Trim(r.Trim.Stream, r.Trim.Prefix)
		return Response{}
	},
	ReqForceGC: func(u *Unit, r Request) Response {
		u.ForceGC()
		return Response{}
	},
	ReqSetGCInterval: func(u *Unit, r Request) Response {
		u.SetGCInterval(r.SetGCInterval.Interval)
		return Response{}
	},
}

// Dispatch routes req to its handler via dispatchTable. Exported so an
// out-of-scope router can depend on this module's dispatch surface
// without reaching into Unit's individual methods.
func Dispatch(u *Unit, req Request) Response {
	fn, ok := dispatchTable[req.Kind]
	if !ok {
		return Response{Err: fmt.Errorf("logunit: no handler registered for request kind %s", req.Kind)}
	}
	return fn(u, req)
}
