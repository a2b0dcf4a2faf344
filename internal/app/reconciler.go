package app

import "sort"

// maxGapBuffer bounds the out-of-order buffer. If a frame goes missing
// for long enough that the buffer fills, the reconciler force-catches-up
// to the lowest buffered seq instead of stalling delivery forever.
const maxGapBuffer = 256

// SequenceReconciler turns the raw per-epoch frame stream into a
// strictly increasing, gap-free, duplicate-free delivery sequence.
//
// Frames with seq 0 are unsequenced and pass straight through. A frame
// beyond the expected seq is buffered and a single resend request is
// issued for the gap; the request flag clears once the buffer drains.
//
// All methods must be called from the client's writer goroutine.
type SequenceReconciler struct {
	expected        int64
	lastDelivered   int64
	buffer          map[int64]Frame
	resendRequested bool

	deliver       func(Frame)
	requestResend func(fromSeq int64)
}

func NewSequenceReconciler(deliver func(Frame), requestResend func(fromSeq int64)) *SequenceReconciler {
	return &SequenceReconciler{
		expected:      1,
		buffer:        make(map[int64]Frame),
		deliver:       deliver,
		requestResend: requestResend,
	}
}

// EpochStart resets reconciliation state for a new connection epoch.
// Delivery resumes at lastDelivered+1; buffered frames and any
// outstanding resend request from the old epoch are discarded
// unconditionally.
func (r *SequenceReconciler) EpochStart() {
	r.expected = r.lastDelivered + 1
	r.buffer = make(map[int64]Frame)
	r.resendRequested = false
}

// LastDelivered reports the highest sequenced frame handed downstream.
// Survives epoch boundaries so reconnects can resume exactly where the
// client left off.
func (r *SequenceReconciler) LastDelivered() int64 { return r.lastDelivered }

// ResendPending reports whether a resend request is outstanding.
func (r *SequenceReconciler) ResendPending() bool { return r.resendRequested }

// OnFrame feeds one raw frame through the reconciler.
func (r *SequenceReconciler) OnFrame(f Frame) {
	switch {
	case f.Seq == 0:
		// Unsequenced: deliver immediately, no effect on ordering.
		r.deliver(f)

	case f.Seq < r.expected:
		// Duplicate of something already delivered. Drop.

	case f.Seq == r.expected:
		r.deliverSeq(f)
		r.drain()

	default:
		// Gap. Buffer and ask for the missing range once.
		r.buffer[f.Seq] = f
		if !r.resendRequested {
			r.resendRequested = true
			r.requestResend(r.expected)
		}
		if len(r.buffer) > maxGapBuffer {
			r.forceCatchUp()
		}
	}
}

func (r *SequenceReconciler) deliverSeq(f Frame) {
	r.deliver(f)
	r.lastDelivered = f.Seq
	r.expected = f.Seq + 1
}

// drain flushes now-contiguous buffered frames.
func (r *SequenceReconciler) drain() {
	for {
		f, ok := r.buffer[r.expected]
		if !ok {
			break
		}
		delete(r.buffer, r.expected)
		r.deliverSeq(f)
	}
	if len(r.buffer) == 0 {
		r.resendRequested = false
	}
}

// forceCatchUp gives up on the current gap: expected jumps to the
// lowest buffered seq and everything contiguous from there drains.
func (r *SequenceReconciler) forceCatchUp() {
	seqs := make([]int64, 0, len(r.buffer))
	for s := range r.buffer {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	r.expected = seqs[0]
	r.drain()
}
