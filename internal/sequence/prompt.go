package sequence

import (
	"context"
)

// Request is a pre-flight confirmation put to the operator before a run
// commits to hardware.
type Request struct {
	RunID      string
	Message    string
	responseCh chan Response
}

// Response is the operator's decision on a request.
type Response struct {
	Approved bool
	Error    error
}

// DecideFunc is the callback a Prompt uses to put a request in front of the
// operator. It returns the decision, or an error when no decision could be
// obtained.
type DecideFunc func(ctx context.Context, runID string, message string) (bool, error)

// Prompt serializes operator confirmations over a channel, so runners can
// block on approval without sharing the operator's input surface.
type Prompt struct {
	requestCh chan Request
	decideFn  DecideFunc
	done      chan struct{}
}

// NewPrompt creates a prompt with the specified buffer size and decision
// function. One slot per concurrently confirming runner is enough.
func NewPrompt(bufferSize int, decideFn DecideFunc) *Prompt {
	return &Prompt{
		requestCh: make(chan Request, bufferSize),
		decideFn:  decideFn,
		done:      make(chan struct{}),
	}
}

// Start launches the request handler goroutine.
// It serves requests until the context is cancelled.
func (p *Prompt) Start(ctx context.Context) {
	go p.handleRequests(ctx)
}

// handleRequests serves incoming requests until context is cancelled.
func (p *Prompt) handleRequests(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.requestCh:
			approved, err := p.decideFn(ctx, req.RunID, req.Message)

			// Check if context was cancelled while the operator decided
			select {
			case <-ctx.Done():
				// Send cancellation error instead
				req.responseCh <- Response{
					Approved: false,
					Error:    ctx.Err(),
				}
				return
			default:
				// Send the decision
				req.responseCh <- Response{
					Approved: approved,
					Error:    err,
				}
			}
		}
	}
}

// Confirm asks the operator to approve the described run and waits for the
// decision. It respects context cancellation at both the send and receive
// stages.
func (p *Prompt) Confirm(ctx context.Context, runID string, message string) (bool, error) {
	// Create buffered response channel to prevent handler blocking
	responseCh := make(chan Response, 1)

	req := Request{
		RunID:      runID,
		Message:    message,
		responseCh: responseCh,
	}

	// Send request (or cancel)
	select {
	case p.requestCh <- req:
		// Request sent successfully
	case <-ctx.Done():
		return false, ctx.Err()
	}

	// Wait for decision (or cancel)
	select {
	case resp := <-responseCh:
		if resp.Error != nil {
			return false, resp.Error
		}
		return resp.Approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Stop blocks until the handler goroutine has exited.
func (p *Prompt) Stop() {
	<-p.done
}
